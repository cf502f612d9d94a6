// Package composer assembles budgeted context packages for a target
// location and feeds extraction results back into the knowledge store.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/papercomputeco/keel/pkg/graph"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// ContextPackage is the composed payload for one upcoming change. The
// sections are ordered by priority: constraints are never evicted by
// concepts, and every section is filled deterministically so the same
// snapshot and budget always compose the same package.
type ContextPackage struct {
	Target      knowledge.CodeLocation `json:"target"`
	TokenBudget int                    `json:"token_budget"`
	TokensUsed  int                    `json:"tokens_used"`
	Truncated   bool                   `json:"truncated,omitempty"`

	Constraints              []string                      `json:"constraints,omitempty"`
	FailedAssumptions        []*knowledge.Assumption       `json:"failed_assumptions,omitempty"`
	InvalidRetryFingerprints []knowledge.ChangeFingerprint `json:"invalid_retry_fingerprints,omitempty"`
	RelevantConcepts         []*knowledge.Concept          `json:"relevant_concepts,omitempty"`
}

// Composer composes context packages from the current snapshot.
type Composer struct {
	store *store.Store
}

// New creates a composer over the given store.
func New(st *store.Store) *Composer {
	return &Composer{store: st}
}

// Compose builds the context package for a target location under a token
// budget. Sections fill in priority order; the first candidate that does
// not fit stops composition across every remaining section, so a larger
// budget always yields a superset of a smaller one.
func (c *Composer) Compose(target knowledge.CodeLocation, tokenBudget int) *ContextPackage {
	target = target.Normalize()
	snap := c.store.Snapshot()

	pkg := &ContextPackage{Target: target, TokenBudget: tokenBudget}
	if tokenBudget <= 0 {
		return pkg
	}
	remaining := tokenBudget
	full := false
	take := func(cost int) bool {
		if full || cost > remaining {
			full = true
			pkg.Truncated = true
			return false
		}
		remaining -= cost
		return true
	}

	relevance := conceptRelevance(snap, target)

	for _, text := range constraintCandidates(snap, target, relevance) {
		if !take(textTokens(text)) {
			break
		}
		pkg.Constraints = append(pkg.Constraints, text)
	}

	for _, a := range assumptionCandidates(snap, target, relevance) {
		if !take(textTokens(a.Description)) {
			break
		}
		pkg.FailedAssumptions = append(pkg.FailedAssumptions, a.Clone())
	}

	for _, fp := range fingerprintCandidates(snap, target) {
		if !take(fingerprintTokens(fp)) {
			break
		}
		pkg.InvalidRetryFingerprints = append(pkg.InvalidRetryFingerprints, fp.Clone())
	}

	for _, cand := range conceptCandidates(snap, relevance) {
		if !take(textTokens(conceptSummary(cand))) {
			break
		}
		pkg.RelevantConcepts = append(pkg.RelevantConcepts, cand.Clone())
	}

	pkg.TokensUsed = tokenBudget - remaining
	return pkg
}

// conceptRelevance scores every non-stale concept against the target:
// direct location proximity when the concept covers nearby code, and
// graph distance from the concepts anchored at the target otherwise.
func conceptRelevance(snap *knowledge.ProjectKnowledge, target knowledge.CodeLocation) map[string]float64 {
	anchors := snap.ConceptsAt(target)
	anchorIDs := make([]string, 0, len(anchors))
	for _, a := range anchors {
		anchorIDs = append(anchorIDs, a.ID)
	}

	scores := make(map[string]float64, len(snap.Concepts))
	for id, concept := range snap.Concepts {
		if concept.Stale {
			continue
		}
		best := 0.0
		for _, loc := range concept.Locations {
			if p := loc.Proximity(target); p > best {
				best = p
			}
		}
		for _, anchor := range anchorIDs {
			d := graph.Distance(snap, anchor, id)
			if d < 0 {
				continue
			}
			if s := 0.5 / float64(1+d); s > best {
				best = s
			}
		}
		if best > 0 {
			scores[id] = best
		}
	}
	return scores
}

// constraintCandidates gathers tradeoff constraints from intents near the
// target and explanation constraints from open failures there, deduped
// and ordered by source relevance then text.
func constraintCandidates(snap *knowledge.ProjectKnowledge, target knowledge.CodeLocation, relevance map[string]float64) []string {
	type scored struct {
		text  string
		score float64
	}
	var all []scored

	for _, intent := range snap.Intents {
		if intent.Superseded() || intent.TradeoffID == "" {
			continue
		}
		score := intent.Location.Proximity(target)
		for _, cid := range intent.ConceptIDs {
			if s := relevance[cid]; s > score {
				score = s
			}
		}
		if score <= 0 {
			continue
		}
		t, ok := snap.Tradeoffs[intent.TradeoffID]
		if !ok {
			continue
		}
		for _, constraint := range t.Constraints {
			all = append(all, scored{text: constraint, score: score})
		}
		if t.Decision != "" {
			all = append(all, scored{text: "decision: " + t.Decision, score: score})
		}
	}

	for _, f := range snap.Failures {
		if !f.Open() || f.Explanation == nil {
			continue
		}
		score := 0.0
		for _, loc := range f.Locations {
			if p := loc.Proximity(target); p > score {
				score = p
			}
		}
		if score <= 0 {
			continue
		}
		for _, constraint := range f.Explanation.Constraints {
			all = append(all, scored{text: constraint, score: score})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].text < all[j].text
	})

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, s := range all {
		if s.text == "" || seen[s.text] {
			continue
		}
		seen[s.text] = true
		out = append(out, s.text)
	}
	return out
}

// assumptionCandidates returns active assumptions with a failed status or
// a suspected flag that touch the target or a relevant concept, most
// relevant first. Orphaned and archived assumptions never compose.
func assumptionCandidates(snap *knowledge.ProjectKnowledge, target knowledge.CodeLocation, relevance map[string]float64) []*knowledge.Assumption {
	type scored struct {
		a     *knowledge.Assumption
		score float64
	}
	var all []scored

	for _, a := range snap.Assumptions {
		if !a.Active() || (a.Status != knowledge.StatusFailed && !a.Suspected) {
			continue
		}
		score := a.Location.Proximity(target)
		for _, cid := range a.ConceptIDs {
			if s := relevance[cid]; s > score {
				score = s
			}
		}
		if score <= 0 {
			continue
		}
		all = append(all, scored{a: a, score: score})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].a.ID < all[j].a.ID
	})

	out := make([]*knowledge.Assumption, len(all))
	for i, s := range all {
		out[i] = s.a
	}
	return out
}

// fingerprintCandidates returns the fingerprints of failed attempts on
// open failures touching the target. A fingerprint with a succeeded
// sibling attempt is no longer invalid and is excluded.
func fingerprintCandidates(snap *knowledge.ProjectKnowledge, target knowledge.CodeLocation) []knowledge.ChangeFingerprint {
	var failureIDs []string
	for id, f := range snap.Failures {
		if !f.Open() {
			continue
		}
		for _, loc := range f.Locations {
			if loc.Proximity(target) > 0 {
				failureIDs = append(failureIDs, id)
				break
			}
		}
	}
	sort.Strings(failureIDs)

	var out []knowledge.ChangeFingerprint
	seen := make(map[string]bool)
	for _, fid := range failureIDs {
		attempts := snap.AttemptsForFailure(fid)
		succeeded := make(map[string]bool)
		for _, at := range attempts {
			if at.Outcome == knowledge.OutcomeSucceeded {
				succeeded[at.Fingerprint.Hash] = true
			}
		}
		for _, at := range attempts {
			if at.Outcome != knowledge.OutcomeFailed {
				continue
			}
			hash := at.Fingerprint.Hash
			if succeeded[hash] || seen[hash] {
				continue
			}
			seen[hash] = true
			out = append(out, at.Fingerprint)
		}
	}
	return out
}

// conceptCandidates returns relevant concepts best first, ties by id.
func conceptCandidates(snap *knowledge.ProjectKnowledge, relevance map[string]float64) []*knowledge.Concept {
	ids := make([]string, 0, len(relevance))
	for id := range relevance {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if relevance[ids[i]] != relevance[ids[j]] {
			return relevance[ids[i]] > relevance[ids[j]]
		}
		return ids[i] < ids[j]
	})

	out := make([]*knowledge.Concept, 0, len(ids))
	for _, id := range ids {
		out = append(out, snap.Concepts[id])
	}
	return out
}

func conceptSummary(c *knowledge.Concept) string {
	locs := make([]string, 0, len(c.Locations))
	for _, l := range c.Locations {
		locs = append(locs, l.Key())
	}
	return fmt.Sprintf("%s/%s %s @ %s", c.Category, c.Name, c.Signature, strings.Join(locs, " "))
}

func fingerprintTokens(fp knowledge.ChangeFingerprint) int {
	total := textTokens(fp.Hash)
	for _, loc := range fp.Locations {
		total += textTokens(loc.Key())
	}
	for _, id := range fp.ConceptIDs {
		total += textTokens(id)
	}
	return total
}

// textTokens is a coarse token estimate, four runes per token.
func textTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return len([]rune(text))/4 + 1
}
