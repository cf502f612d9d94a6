// Package retry maintains the similarity index of failed fix approaches
// and blocks proposed fixes that are too close to one that already
// failed. Similarity works on the changed-location and concept sets, not
// raw text, so a reworded version of a failed fix is still caught.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Config holds the retry-prevention tunables. The similarity function is
// a weighted overlap of the two fingerprint sets; the threshold is a
// calibration parameter, not a fixed contract.
type Config struct {
	SimilarityThreshold float64
	LocationWeight      float64
	ConceptWeight       float64
}

// DefaultConfig returns the retry-prevention defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.6,
		LocationWeight:      0.5,
		ConceptWeight:       0.5,
	}
}

// Verdict is the outcome of a pre-attempt check.
type Verdict struct {
	Blocked          bool     `json:"blocked"`
	Reason           string   `json:"reason,omitempty"`
	Similarity       float64  `json:"similarity"`
	MatchedAttemptID string   `json:"matched_attempt_id,omitempty"`
	Alternatives     []string `json:"alternatives,omitempty"`
}

// Engine is the retry-prevention engine for one project.
type Engine struct {
	store *store.Store
	cfg   Config
	clock func() time.Time
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an engine over the given store.
func New(st *store.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		cfg:   cfg,
		clock: time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordAttempt records one fix attempt against a failure. The outcome
// usually starts unknown and is updated later via UpdateOutcome when the
// re-execution result is observed.
func (e *Engine) RecordAttempt(ctx context.Context, failureID string, fp knowledge.ChangeFingerprint, outcome knowledge.AttemptOutcome) (*knowledge.RetryAttempt, error) {
	var created *knowledge.RetryAttempt
	_, err := e.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		if _, ok := snap.Failures[failureID]; !ok {
			return knowledge.NotFoundError{Kind: knowledge.KindFailureRecord, ID: failureID}
		}
		now := e.clock().UTC()
		created = &knowledge.RetryAttempt{
			ID:          uuid.NewString(),
			FailureID:   failureID,
			Fingerprint: fp.Clone(),
			Outcome:     outcome,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		tx.Attempts = append(tx.Attempts, created)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

// UpdateOutcome records the asynchronously observed re-execution result.
// A succeeded outcome is monotonic: once set it is never reverted, and
// attempts to do so are rejected.
func (e *Engine) UpdateOutcome(ctx context.Context, attemptID string, outcome knowledge.AttemptOutcome) (*knowledge.RetryAttempt, error) {
	var updated *knowledge.RetryAttempt
	_, err := e.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		cur, ok := snap.Attempts[attemptID]
		if !ok {
			return knowledge.NotFoundError{Kind: knowledge.KindRetryAttempt, ID: attemptID}
		}
		if cur.Outcome == knowledge.OutcomeSucceeded && outcome != knowledge.OutcomeSucceeded {
			return knowledge.ValidationError{Entity: knowledge.KindRetryAttempt, ID: attemptID, Reason: "succeeded outcome cannot be reverted"}
		}
		next := cur.Clone()
		next.Outcome = outcome
		next.UpdatedAt = e.clock().UTC()
		tx.Attempts = append(tx.Attempts, next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// CheckBeforeAttempt reports whether a proposed fix should be blocked:
// its fingerprint is too similar to an attempt that already failed on
// this failure. Once a fingerprint has a succeeded attempt, its failed
// siblings stay recorded for learning but no longer surface as warnings.
func (e *Engine) CheckBeforeAttempt(failureID string, proposed knowledge.ChangeFingerprint) (*Verdict, error) {
	snap := e.store.Snapshot()
	failure, ok := snap.Failures[failureID]
	if !ok {
		return nil, knowledge.NotFoundError{Kind: knowledge.KindFailureRecord, ID: failureID}
	}

	attempts := snap.AttemptsForFailure(failureID)

	succeeded := make(map[string]bool)
	for _, at := range attempts {
		if at.Outcome == knowledge.OutcomeSucceeded {
			succeeded[at.Fingerprint.Hash] = true
		}
	}

	verdict := &Verdict{}
	for _, at := range attempts {
		if at.Outcome != knowledge.OutcomeFailed || succeeded[at.Fingerprint.Hash] {
			continue
		}
		sim := e.similarity(proposed, at.Fingerprint)
		if sim > verdict.Similarity {
			verdict.Similarity = sim
			verdict.MatchedAttemptID = at.ID
		}
	}

	if verdict.Similarity >= e.cfg.SimilarityThreshold {
		verdict.Blocked = true
		verdict.Reason = fmt.Sprintf("proposed fix is %.0f%% similar to attempt %s, which already failed on this failure",
			verdict.Similarity*100, verdict.MatchedAttemptID)
		verdict.Alternatives = alternatives(snap, failure)
	}

	return verdict, nil
}

// similarity is the weighted overlap of the changed-location and concept
// sets of two fingerprints.
func (e *Engine) similarity(a, b knowledge.ChangeFingerprint) float64 {
	wLoc, wConcept := e.cfg.LocationWeight, e.cfg.ConceptWeight
	if wLoc+wConcept <= 0 {
		d := DefaultConfig()
		wLoc, wConcept = d.LocationWeight, d.ConceptWeight
	}
	total := wLoc + wConcept

	locSim := jaccard(locationKeys(a.Locations), locationKeys(b.Locations))
	conceptSim := jaccard(a.ConceptIDs, b.ConceptIDs)

	// When neither fingerprint carries concepts, location overlap is the
	// whole signal; the converse holds as well.
	switch {
	case len(a.ConceptIDs) == 0 && len(b.ConceptIDs) == 0:
		return locSim
	case len(a.Locations) == 0 && len(b.Locations) == 0:
		return conceptSim
	}
	return (wLoc*locSim + wConcept*conceptSim) / total
}

// alternatives are the directions still worth trying: constraints the
// classifier marked as needing to hold, plus violated assumptions not
// yet re-validated.
func alternatives(snap *knowledge.ProjectKnowledge, failure *knowledge.FailureRecord) []string {
	var out []string
	if failure.Explanation != nil {
		out = append(out, failure.Explanation.Constraints...)
	}
	var unresolved []string
	for _, ra := range failure.ViolatedAssumptions {
		a, ok := snap.Assumptions[ra.AssumptionID]
		if !ok || a.Status == knowledge.StatusValid {
			continue
		}
		unresolved = append(unresolved, fmt.Sprintf("revisit %s: %s", a.Kind, a.Description))
	}
	sort.Strings(unresolved)
	return append(out, unresolved...)
}

func locationKeys(locs []knowledge.CodeLocation) []string {
	keys := make([]string, 0, len(locs))
	for _, l := range locs {
		keys = append(keys, l.Key())
	}
	return keys
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s] = true
	}
	setB := make(map[string]bool, len(b))
	inter := 0
	for _, s := range b {
		if setB[s] {
			continue
		}
		setB[s] = true
		if setA[s] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
