package store

import (
	"context"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// Compact removes superseded and archived entities older than the
// retention window, preserving referential integrity: nothing referenced
// by a non-archived entity is removed. Returns the number of entities
// deleted.
func (s *Store) Compact(ctx context.Context) (int, error) {
	removed := 0
	_, err := s.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *Transaction) error {
		cutoff := s.clock().UTC().Add(-s.retention)
		refs := collectLiveRefs(snap)
		removed = 0

		for id, in := range snap.Intents {
			if !in.Superseded() || !in.CreatedAt.Before(cutoff) {
				continue
			}
			if refs[knowledge.KindIntent][id] {
				continue
			}
			tx.Deletes = append(tx.Deletes, EntityRef{Kind: knowledge.KindIntent, ID: id})
			removed++
		}

		for id, a := range snap.Assumptions {
			if !a.Archived || !a.CreatedAt.Before(cutoff) {
				continue
			}
			if refs[knowledge.KindAssumption][id] {
				continue
			}
			tx.Deletes = append(tx.Deletes, EntityRef{Kind: knowledge.KindAssumption, ID: id})
			removed++
		}

		// Attempts of long-resolved failures carry no remaining learning
		// value once past the window; the failure record itself stays.
		for id, at := range snap.Attempts {
			f, ok := snap.Failures[at.FailureID]
			if !ok || !f.Resolved || !at.CreatedAt.Before(cutoff) {
				continue
			}
			if refs[knowledge.KindRetryAttempt][id] {
				continue
			}
			tx.Deletes = append(tx.Deletes, EntityRef{Kind: knowledge.KindRetryAttempt, ID: id})
			removed++
		}

		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// collectLiveRefs indexes every reference held by a non-archived entity,
// keyed by the kind and id of the referenced entity. An entry here vetoes
// compaction of that entity.
func collectLiveRefs(snap *knowledge.ProjectKnowledge) map[knowledge.EntityKind]map[string]bool {
	refs := map[knowledge.EntityKind]map[string]bool{
		knowledge.KindConcept:       {},
		knowledge.KindIntent:        {},
		knowledge.KindAssumption:    {},
		knowledge.KindTradeoff:      {},
		knowledge.KindFailureRecord: {},
		knowledge.KindRetryAttempt:  {},
	}

	for _, a := range snap.Assumptions {
		if a.Archived {
			continue
		}
		for _, cid := range a.ConceptIDs {
			refs[knowledge.KindConcept][cid] = true
		}
		for _, v := range a.Violations {
			refs[knowledge.KindFailureRecord][v.FailureID] = true
		}
	}
	for _, in := range snap.Intents {
		if in.Superseded() {
			continue
		}
		for _, cid := range in.ConceptIDs {
			refs[knowledge.KindConcept][cid] = true
		}
		if in.TradeoffID != "" {
			refs[knowledge.KindTradeoff][in.TradeoffID] = true
		}
		// A live intent pins its superseded ancestors' chain head only;
		// history older than the window is fair game.
	}
	for _, f := range snap.Failures {
		for _, ra := range f.ViolatedAssumptions {
			refs[knowledge.KindAssumption][ra.AssumptionID] = true
		}
		if f.Explanation != nil {
			for _, aid := range f.Explanation.PriorAttemptIDs {
				refs[knowledge.KindRetryAttempt][aid] = true
			}
		}
	}

	return refs
}
