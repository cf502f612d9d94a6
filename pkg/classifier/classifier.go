// Package classifier consumes failure signals and produces ranked,
// explainable failure-to-assumption linkage. The deterministic parts
// (scoring, ranking, state transitions) never invoke a model; free-text
// explanation enrichment stays behind the llm boundary.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/store"
)

// Config holds the classifier tunables.
type Config struct {
	// RecencyWindow is how far back a prior change at the failure site
	// still suggests a logic failure, and the half-life used for the
	// validation-recency term of the ranking score.
	RecencyWindow time.Duration

	// ScoreFloor is the minimum ranking score for a candidate violated
	// assumption. Candidates below the floor are dropped rather than
	// fabricated into a link.
	ScoreFloor float64

	// QuietAttempts is the number of subsequent attempts with no new
	// failure at the location after which a failure resolves without an
	// explicit confirmation signal.
	QuietAttempts int

	// MaxCandidates bounds the violated-assumption ranking output.
	MaxCandidates int

	// LocationWeight, ConceptWeight, and RecencyWeight combine the three
	// ranking terms. They are normalized internally.
	LocationWeight float64
	ConceptWeight  float64
	RecencyWeight  float64
}

// DefaultConfig returns the classifier defaults.
func DefaultConfig() Config {
	return Config{
		RecencyWindow:  30 * time.Minute,
		ScoreFloor:     0.25,
		QuietAttempts:  3,
		MaxCandidates:  5,
		LocationWeight: 0.45,
		ConceptWeight:  0.35,
		RecencyWeight:  0.2,
	}
}

// Classifier runs the failure lifecycle state machine:
// Observed → Classified → AssumptionsIdentified → Explained →
// (Resolved | Recurring).
type Classifier struct {
	store *store.Store
	cfg   Config
	clock func() time.Time
	log   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Classifier) { c.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Classifier) { c.log = log }
}

// New creates a classifier over the given store.
func New(st *store.Store, cfg Config, opts ...Option) *Classifier {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultConfig().MaxCandidates
	}
	c := &Classifier{
		store: st,
		cfg:   cfg,
		clock: time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe ingests one failure signal and drives it through the full
// pipeline in a single transaction. An equivalent open failure (same
// fingerprint) becomes Recurring with its recurrence count incremented;
// otherwise a new record is classified, ranked against the assumption
// set, and explained. Candidate violated assumptions are flagged
// suspected; the failed status transition itself only happens through an
// explicit Validate call with evidence.
func (c *Classifier) Observe(ctx context.Context, signal knowledge.FailureSignal) (*knowledge.FailureRecord, error) {
	if len(signal.Locations) == 0 {
		return nil, knowledge.ValidationError{Entity: knowledge.KindFailureRecord, Reason: "failure signal lacks a code location"}
	}

	var result *knowledge.FailureRecord
	_, err := c.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		now := c.clock().UTC()
		observedAt := signal.ObservedAt
		if observedAt.IsZero() {
			observedAt = now
		}

		conceptIDs := conceptsForSignal(snap, signal)
		class := c.classify(snap, signal, observedAt)
		fingerprint := knowledge.FailureFingerprint(class, signal.Locations, conceptIDs)

		if existing := snap.FailureByFingerprint(fingerprint); existing != nil {
			next := existing.Clone()
			next.RecurrenceCount++
			next.State = knowledge.FailureRecurring
			next.LastObservedAt = observedAt
			next.QuietAttempts = 0
			tx.Failures = append(tx.Failures, next)
			result = next
			return nil
		}

		record := &knowledge.FailureRecord{
			ID:              uuid.NewString(),
			Locations:       normalizeLocations(signal.Locations),
			Class:           class,
			State:           knowledge.FailureClassified,
			Fingerprint:     fingerprint,
			Message:         signal.Message,
			ConceptIDs:      conceptIDs,
			RecurrenceCount: 1,
			ObservedAt:      observedAt,
			LastObservedAt:  observedAt,
		}

		ranked := c.rankAssumptions(snap, record)
		record.ViolatedAssumptions = ranked
		record.State = knowledge.FailureAssumptionsIdentified

		for _, ra := range ranked {
			if a, ok := snap.Assumptions[ra.AssumptionID]; ok && !a.Suspected {
				next := a.Clone()
				next.Suspected = true
				tx.Assumptions = append(tx.Assumptions, next)
			}
		}

		record.Explanation = c.explain(snap, record)
		record.State = knowledge.FailureExplained

		tx.Failures = append(tx.Failures, record)
		result = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Clone(), nil
}

// ConfirmResolution resolves every open failure at the location after a
// confirmed successful re-execution there. Returns the resolved ids.
func (c *Classifier) ConfirmResolution(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	var resolved []string
	_, err := c.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		resolved = resolved[:0]
		for _, f := range snap.Failures {
			if !f.Open() || !failureAt(f, loc) {
				continue
			}
			next := f.Clone()
			next.State = knowledge.FailureResolved
			next.Resolved = true
			tx.Failures = append(tx.Failures, next)
			resolved = append(resolved, next.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(resolved)
	return resolved, nil
}

// NoteQuietAttempt records one subsequent attempt with no new failure at
// the location. Failures reaching the configured quiet-attempt count
// resolve; that is the only resolution path without an explicit
// confirmation signal. Returns the ids resolved by this attempt.
func (c *Classifier) NoteQuietAttempt(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	var resolved []string
	_, err := c.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		resolved = resolved[:0]
		for _, f := range snap.Failures {
			if !f.Open() || !failureAt(f, loc) {
				continue
			}
			next := f.Clone()
			next.QuietAttempts++
			if next.QuietAttempts >= c.cfg.QuietAttempts {
				next.State = knowledge.FailureResolved
				next.Resolved = true
				resolved = append(resolved, next.ID)
			}
			tx.Failures = append(tx.Failures, next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(resolved)
	return resolved, nil
}

// classify maps the signal onto the closed failure taxonomy. Message
// shape decides runtime vs integration; a prior change at the failure
// site within the recency window suggests logic; conflicting or absent
// evidence defaults to unknown rather than guessing.
func (c *Classifier) classify(snap *knowledge.ProjectKnowledge, signal knowledge.FailureSignal, observedAt time.Time) knowledge.FailureClass {
	msg := strings.ToLower(signal.Message + " " + signal.ErrorKind)

	runtimeHit := containsAny(msg,
		"panic", "nil pointer", "nil dereference", "index out of range",
		"segmentation fault", "stack overflow", "division by zero",
		"out of memory", "assertion failed")
	integrationHit := containsAny(msg,
		"timeout", "timed out", "connection", "refused", "unreachable",
		"dns", "tls", "socket", "broken pipe", "status 5", "unavailable",
		"econn")

	switch {
	case runtimeHit && !integrationHit:
		return knowledge.FailureRuntime
	case integrationHit && !runtimeHit:
		return knowledge.FailureIntegration
	case runtimeHit && integrationHit:
		return knowledge.FailureUnknown
	}

	if c.recentChangeAt(snap, signal.Locations, observedAt) {
		return knowledge.FailureLogic
	}
	return knowledge.FailureUnknown
}

// recentChangeAt reports whether a non-superseded intent touched any
// failure location within the recency window before the observation.
func (c *Classifier) recentChangeAt(snap *knowledge.ProjectKnowledge, locs []knowledge.CodeLocation, observedAt time.Time) bool {
	cutoff := observedAt.Add(-c.cfg.RecencyWindow)
	for _, in := range snap.Intents {
		if in.Superseded() || in.CreatedAt.Before(cutoff) || in.CreatedAt.After(observedAt) {
			continue
		}
		for _, loc := range locs {
			if in.Location.Overlaps(loc) {
				return true
			}
		}
	}
	return false
}

// explain builds the structured explanation: what was violated and why,
// the affected layer, prior attempts for this failure, and the related
// constraints that must continue to hold.
func (c *Classifier) explain(snap *knowledge.ProjectKnowledge, record *knowledge.FailureRecord) *knowledge.Explanation {
	ex := &knowledge.Explanation{}

	if len(record.ViolatedAssumptions) > 0 {
		top := record.ViolatedAssumptions[0]
		if a, ok := snap.Assumptions[top.AssumptionID]; ok {
			ex.Summary = fmt.Sprintf("likely violated %s: %s", a.Kind, a.Description)
			ex.ViolatedBecause = top.Why
		}
	} else {
		ex.Summary = fmt.Sprintf("%s failure at %s with no assumption scoring above the floor", record.Class, locationSummary(record.Locations))
	}

	ex.AffectedLayer = dominantCategory(snap, record.ConceptIDs)

	for _, at := range snap.AttemptsForFailure(record.ID) {
		ex.PriorAttemptIDs = append(ex.PriorAttemptIDs, at.ID)
	}

	ex.Constraints = relatedConstraints(snap, record)
	return ex
}

// relatedConstraints collects non-violated assumptions sharing a concept
// with the failure: the conditions a fix must keep holding.
func relatedConstraints(snap *knowledge.ProjectKnowledge, record *knowledge.FailureRecord) []string {
	violated := make(map[string]bool, len(record.ViolatedAssumptions))
	for _, ra := range record.ViolatedAssumptions {
		violated[ra.AssumptionID] = true
	}
	failureConcepts := make(map[string]bool, len(record.ConceptIDs))
	for _, id := range record.ConceptIDs {
		failureConcepts[id] = true
	}

	var related []*knowledge.Assumption
	for _, a := range snap.Assumptions {
		if violated[a.ID] || !a.Active() || a.Status == knowledge.StatusFailed {
			continue
		}
		for _, cid := range a.ConceptIDs {
			if failureConcepts[cid] {
				related = append(related, a)
				break
			}
		}
	}
	sort.Slice(related, func(i, j int) bool { return related[i].ID < related[j].ID })

	out := make([]string, 0, len(related))
	for _, a := range related {
		out = append(out, a.Description)
	}
	return out
}

func conceptsForSignal(snap *knowledge.ProjectKnowledge, signal knowledge.FailureSignal) []string {
	seen := make(map[string]bool)
	var out []string
	for _, loc := range signal.Locations {
		for _, concept := range snap.ConceptsAt(loc) {
			if !seen[concept.ID] {
				seen[concept.ID] = true
				out = append(out, concept.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

func dominantCategory(snap *knowledge.ProjectKnowledge, conceptIDs []string) string {
	counts := make(map[knowledge.ConceptCategory]int)
	for _, id := range conceptIDs {
		if concept, ok := snap.Concepts[id]; ok {
			counts[concept.Category]++
		}
	}
	best := ""
	bestCount := 0
	for category, n := range counts {
		if n > bestCount || (n == bestCount && string(category) < best) {
			best = string(category)
			bestCount = n
		}
	}
	return best
}

func failureAt(f *knowledge.FailureRecord, loc knowledge.CodeLocation) bool {
	for _, l := range f.Locations {
		if l.Overlaps(loc) {
			return true
		}
	}
	return false
}

func normalizeLocations(locs []knowledge.CodeLocation) []knowledge.CodeLocation {
	return knowledge.MergeLocations(locs, nil)
}

func locationSummary(locs []knowledge.CodeLocation) string {
	keys := make([]string, 0, len(locs))
	for _, l := range locs {
		keys = append(keys, l.Key())
	}
	return strings.Join(keys, ", ")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
