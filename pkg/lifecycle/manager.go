// Package lifecycle creates, links, revalidates, and ages out assumption
// and intent records. It owns every status transition on those entities;
// other subsystems go through the manager rather than mutating them.
package lifecycle

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Manager is the assumption/intent lifecycle owner for one project.
type Manager struct {
	store *store.Store
	clock func() time.Time
	log   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// New creates a lifecycle manager over the given store.
func New(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		clock: time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CaptureIntent records the inferred purpose behind one change event,
// superseding any prior intent at the exact same location. The old
// version is retained for history. An optional tradeoff records the
// decision and its rejected alternatives alongside the intent.
func (m *Manager) CaptureIntent(ctx context.Context, change knowledge.CodeChangeEvent, description string, conceptIDs []string, tradeoff *knowledge.Tradeoff) (*knowledge.Intent, error) {
	loc := change.Location.Normalize()
	if !loc.Valid() {
		return nil, knowledge.ValidationError{Entity: knowledge.KindIntent, Reason: "change event lacks a valid code location"}
	}

	var created *knowledge.Intent
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		now := m.clock().UTC()
		intent := &knowledge.Intent{
			ID:          uuid.NewString(),
			Description: description,
			ConceptIDs:  append([]string(nil), conceptIDs...),
			Location:    loc,
			Confidence:  intentConfidence(change),
			CreatedAt:   now,
		}

		if tradeoff != nil {
			t := tradeoff.Clone()
			if t.ID == "" {
				t.ID = uuid.NewString()
			}
			t.CreatedAt = now
			tx.Tradeoffs = append(tx.Tradeoffs, t)
			intent.TradeoffID = t.ID
		}

		for _, prior := range snap.Intents {
			if prior.Superseded() || prior.Location.Key() != loc.Key() {
				continue
			}
			old := prior.Clone()
			old.SupersededBy = intent.ID
			tx.Intents = append(tx.Intents, old)
		}

		tx.Intents = append(tx.Intents, intent)
		created = intent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// RecordAssumption creates an assumption with initial status untested.
func (m *Manager) RecordAssumption(ctx context.Context, description string, kind knowledge.AssumptionKind, loc knowledge.CodeLocation, conceptIDs []string) (*knowledge.Assumption, error) {
	loc = loc.Normalize()
	if !loc.Valid() {
		return nil, knowledge.ValidationError{Entity: knowledge.KindAssumption, Reason: "invalid code location"}
	}

	var created *knowledge.Assumption
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		created = &knowledge.Assumption{
			ID:          uuid.NewString(),
			Description: description,
			Kind:        kind,
			ConceptIDs:  append([]string(nil), conceptIDs...),
			Location:    loc,
			Status:      knowledge.StatusUntested,
			CreatedAt:   m.clock().UTC(),
		}
		tx.Assumptions = append(tx.Assumptions, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// Validate records one validation outcome. A failed outcome appends to
// the violation history; evidence must reference the failure record that
// produced it. A valid outcome clears the transient suspected flag but
// keeps the history, since assumptions can re-fail later.
func (m *Manager) Validate(ctx context.Context, assumptionID string, outcome knowledge.AssumptionStatus, evidence knowledge.Violation) (*knowledge.Assumption, error) {
	if outcome != knowledge.StatusValid && outcome != knowledge.StatusFailed {
		return nil, knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: assumptionID, Reason: "validation outcome must be valid or failed"}
	}

	var updated *knowledge.Assumption
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		cur, ok := snap.Assumptions[assumptionID]
		if !ok {
			return knowledge.NotFoundError{Kind: knowledge.KindAssumption, ID: assumptionID}
		}

		now := m.clock().UTC()
		next := cur.Clone()
		next.Status = outcome
		next.LastValidatedAt = &now

		switch outcome {
		case knowledge.StatusFailed:
			if evidence.FailureID == "" {
				return knowledge.ValidationError{Entity: knowledge.KindAssumption, ID: assumptionID, Reason: "failed validation requires failure record evidence"}
			}
			if _, ok := snap.Failures[evidence.FailureID]; !ok {
				return knowledge.NotFoundError{Kind: knowledge.KindFailureRecord, ID: evidence.FailureID}
			}
			if evidence.ObservedAt.IsZero() {
				evidence.ObservedAt = now
			}
			next.Violations = append(next.Violations, evidence)
			next.Suspected = false
		case knowledge.StatusValid:
			next.Suspected = false
		}

		tx.Assumptions = append(tx.Assumptions, next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// MarkSuspected flags an assumption as suspected without changing its
// status. The flag clears on the next successful validation.
func (m *Manager) MarkSuspected(ctx context.Context, assumptionID string) error {
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		cur, ok := snap.Assumptions[assumptionID]
		if !ok {
			return knowledge.NotFoundError{Kind: knowledge.KindAssumption, ID: assumptionID}
		}
		next := cur.Clone()
		next.Suspected = true
		tx.Assumptions = append(tx.Assumptions, next)
		return nil
	})
	return err
}

// MarkOrphaned flags every assumption whose linked concepts have all gone
// stale. Orphaned assumptions still explain historical failures but are
// excluded from new composer payloads. Returns the ids flagged.
func (m *Manager) MarkOrphaned(ctx context.Context, staleConceptIDs []string) ([]string, error) {
	if len(staleConceptIDs) == 0 {
		return nil, nil
	}
	staleSet := make(map[string]bool, len(staleConceptIDs))
	for _, id := range staleConceptIDs {
		staleSet[id] = true
	}

	var orphaned []string
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		orphaned = orphaned[:0]
		for _, a := range snap.Assumptions {
			if a.Orphaned || a.Archived || len(a.ConceptIDs) == 0 {
				continue
			}
			allStale := true
			for _, cid := range a.ConceptIDs {
				c, ok := snap.Concepts[cid]
				if ok && !c.Stale && !staleSet[cid] {
					allStale = false
					break
				}
			}
			if !allStale {
				continue
			}
			next := a.Clone()
			next.Orphaned = true
			tx.Assumptions = append(tx.Assumptions, next)
			orphaned = append(orphaned, next.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(orphaned)
	return orphaned, nil
}

// ArchiveAt archives every assumption whose location is covered by the
// removed range. Archived assumptions are retained, never deleted.
func (m *Manager) ArchiveAt(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	var archived []string
	_, err := m.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		archived = archived[:0]
		for _, a := range snap.Assumptions {
			if a.Archived || !a.Location.Overlaps(loc) {
				continue
			}
			next := a.Clone()
			next.Archived = true
			tx.Assumptions = append(tx.Assumptions, next)
			archived = append(archived, next.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(archived)
	return archived, nil
}

// FindByConcept returns the assumptions linked to a concept, most
// recently validated first, ties broken by creation time.
func (m *Manager) FindByConcept(conceptID string) []*knowledge.Assumption {
	snap := m.store.Snapshot()
	var out []*knowledge.Assumption
	for _, a := range snap.Assumptions {
		for _, cid := range a.ConceptIDs {
			if cid == conceptID {
				out = append(out, a.Clone())
				break
			}
		}
	}
	sortAssumptions(out)
	return out
}

// FindByLocation returns the assumptions overlapping a location, most
// recently validated first, ties broken by creation time.
func (m *Manager) FindByLocation(loc knowledge.CodeLocation) []*knowledge.Assumption {
	snap := m.store.Snapshot()
	var out []*knowledge.Assumption
	for _, a := range snap.Assumptions {
		if a.Location.Overlaps(loc) {
			out = append(out, a.Clone())
		}
	}
	sortAssumptions(out)
	return out
}

// sortAssumptions orders most-recently-validated first; never-validated
// assumptions sort after validated ones; ties break by creation time,
// then id for full determinism.
func sortAssumptions(list []*knowledge.Assumption) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.LastValidatedAt != nil && b.LastValidatedAt != nil:
			if !a.LastValidatedAt.Equal(*b.LastValidatedAt) {
				return a.LastValidatedAt.After(*b.LastValidatedAt)
			}
		case a.LastValidatedAt != nil:
			return true
		case b.LastValidatedAt != nil:
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// intentConfidence derives a coarse confidence from how much structure
// the change event carried.
func intentConfidence(change knowledge.CodeChangeEvent) float64 {
	switch {
	case len(change.Detections) > 0 && change.StructuralSummary != "":
		return 0.9
	case len(change.Detections) > 0 || change.StructuralSummary != "":
		return 0.7
	default:
		return 0.5
	}
}
