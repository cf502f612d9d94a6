package store

import (
	"reflect"
	"sort"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// Conflict records one entity present in both snapshots with divergent
// fields. Both versions are retained in the merged snapshot, the theirs
// copy under a suffixed id, so a team member resolves explicitly instead
// of losing data to last-writer-wins.
type Conflict struct {
	Kind     knowledge.EntityKind
	ID       string
	TheirsID string
}

// theirsSuffix marks the duplicated copy of a conflicting entity.
const theirsSuffix = "~theirs"

// Merge combines two snapshots of the same project into one. Concepts
// merge by the graph rules (confidence = max, locations = union). Every
// other entity kind unions by id; divergent fields surface as duplicate
// entities plus a Conflict entry. Assumption status is never resolved by
// timestamps: any status divergence is a conflict.
func Merge(ours, theirs *knowledge.ProjectKnowledge) (*knowledge.ProjectKnowledge, []Conflict) {
	out := ours.Clone()
	out.EnsureMaps()
	var conflicts []Conflict

	for id, tc := range theirs.Concepts {
		oc, ok := out.Concepts[id]
		if !ok {
			out.Concepts[id] = tc.Clone()
			continue
		}
		merged := oc.Clone()
		if tc.Confidence > merged.Confidence {
			merged.Confidence = tc.Confidence
		}
		merged.Locations = knowledge.MergeLocations(merged.Locations, tc.Locations)
		merged.Stale = oc.Stale && tc.Stale
		if tc.UpdatedAt.After(merged.UpdatedAt) {
			merged.UpdatedAt = tc.UpdatedAt
		}
		out.Concepts[id] = merged
	}

	for key, te := range theirs.Edges {
		oe, ok := out.Edges[key]
		if !ok {
			out.Edges[key] = te.Clone()
			continue
		}
		merged := oe.Clone()
		if te.Weight > merged.Weight {
			merged.Weight = te.Weight
		}
		if te.UpdatedAt.After(merged.UpdatedAt) {
			merged.UpdatedAt = te.UpdatedAt
		}
		out.Edges[key] = merged
	}

	for id, ti := range theirs.Intents {
		oi, ok := out.Intents[id]
		if !ok {
			out.Intents[id] = ti.Clone()
			continue
		}
		if !reflect.DeepEqual(oi, ti) {
			out.Intents[id+theirsSuffix] = renameIntent(ti, id+theirsSuffix)
			conflicts = append(conflicts, Conflict{Kind: knowledge.KindIntent, ID: id, TheirsID: id + theirsSuffix})
		}
	}

	for id, ta := range theirs.Assumptions {
		oa, ok := out.Assumptions[id]
		if !ok {
			out.Assumptions[id] = ta.Clone()
			continue
		}
		if !reflect.DeepEqual(oa, ta) {
			out.Assumptions[id+theirsSuffix] = renameAssumption(ta, id+theirsSuffix)
			conflicts = append(conflicts, Conflict{Kind: knowledge.KindAssumption, ID: id, TheirsID: id + theirsSuffix})
		}
	}

	for id, tt := range theirs.Tradeoffs {
		if _, ok := out.Tradeoffs[id]; !ok {
			out.Tradeoffs[id] = tt.Clone()
		}
		// Tradeoffs are immutable once created; identical ids are the
		// same decision by construction.
	}

	for id, tf := range theirs.Failures {
		of, ok := out.Failures[id]
		if !ok {
			out.Failures[id] = tf.Clone()
			continue
		}
		merged := of.Clone()
		if tf.RecurrenceCount > merged.RecurrenceCount {
			merged.RecurrenceCount = tf.RecurrenceCount
		}
		if tf.LastObservedAt.After(merged.LastObservedAt) {
			merged.LastObservedAt = tf.LastObservedAt
		}
		merged.Resolved = of.Resolved && tf.Resolved
		if !merged.Resolved && merged.State == knowledge.FailureResolved {
			merged.State = tf.State
		}
		out.Failures[id] = merged
	}

	for id, ta := range theirs.Attempts {
		oa, ok := out.Attempts[id]
		if !ok {
			out.Attempts[id] = ta.Clone()
			continue
		}
		// Succeeded is monotonic across devices too.
		if ta.Outcome == knowledge.OutcomeSucceeded && oa.Outcome != knowledge.OutcomeSucceeded {
			out.Attempts[id] = ta.Clone()
		}
	}

	if theirs.Version > out.Version {
		out.Version = theirs.Version
	}
	out.Version++
	if theirs.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = theirs.UpdatedAt
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Kind != conflicts[j].Kind {
			return conflicts[i].Kind < conflicts[j].Kind
		}
		return conflicts[i].ID < conflicts[j].ID
	})

	return out, conflicts
}

func renameIntent(in *knowledge.Intent, id string) *knowledge.Intent {
	out := in.Clone()
	out.ID = id
	return out
}

func renameAssumption(a *knowledge.Assumption, id string) *knowledge.Assumption {
	out := a.Clone()
	out.ID = id
	return out
}
