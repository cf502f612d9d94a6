// Package engine is the per-project owner tying the subsystems together:
// ordered change-event application, failure handling, retry checks,
// context composition with per-location cancellation, and the query
// surface for presentation layers. Projects are fully independent; one
// Engine owns exactly one project's knowledge.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/keel/pkg/classifier"
	"github.com/papercomputeco/keel/pkg/composer"
	"github.com/papercomputeco/keel/pkg/events"
	"github.com/papercomputeco/keel/pkg/events/nop"
	"github.com/papercomputeco/keel/pkg/graph"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/lifecycle"
	"github.com/papercomputeco/keel/pkg/llm"
	"github.com/papercomputeco/keel/pkg/retry"
	"github.com/papercomputeco/keel/pkg/store"
)

// Engine coordinates one project's knowledge subsystems. Change events
// are applied strictly in arrival order under a single apply lock; reads
// run lock-free on store snapshots.
type Engine struct {
	projectID string
	store     *store.Store

	graph      *graph.Graph
	lifecycle  *lifecycle.Manager
	classifier *classifier.Classifier
	retry      *retry.Engine
	composer   *composer.Composer
	ingestor   *composer.Ingestor

	publisher events.Publisher
	log       *slog.Logger

	// applyMu serializes change-event application so graph updates land
	// in observation order. It is never held across a provider call:
	// extraction runs before it is taken.
	applyMu sync.Mutex

	composeMu  sync.Mutex
	composeGen uint64
	inflight   map[string]inflightCompose

	degradedMu       sync.Mutex
	degradedAnnounce bool
	extractDegraded  bool
}

// Options configures an Engine.
type Options struct {
	Publisher        events.Publisher
	Logger           *slog.Logger
	Extractor        llm.Extractor
	ClassifierConfig *classifier.Config
	RetryConfig      *retry.Config
	GraphHalfLife    time.Duration
	Clock            func() time.Time
}

// New assembles an engine and its subsystems over an opened store.
func New(projectID string, st *store.Store, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = nop.NewPublisher()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	ccfg := classifier.DefaultConfig()
	if opts.ClassifierConfig != nil {
		ccfg = *opts.ClassifierConfig
	}
	rcfg := retry.DefaultConfig()
	if opts.RetryConfig != nil {
		rcfg = *opts.RetryConfig
	}

	graphOpts := []graph.Option{graph.WithClock(clock), graph.WithLogger(log)}
	if opts.GraphHalfLife > 0 {
		graphOpts = append(graphOpts, graph.WithHalfLife(opts.GraphHalfLife))
	}

	g := graph.New(st, graphOpts...)
	lm := lifecycle.New(st, lifecycle.WithClock(clock), lifecycle.WithLogger(log))

	return &Engine{
		projectID:  projectID,
		store:      st,
		graph:      g,
		lifecycle:  lm,
		classifier: classifier.New(st, ccfg, classifier.WithClock(clock), classifier.WithLogger(log)),
		retry:      retry.New(st, rcfg, retry.WithClock(clock), retry.WithLogger(log)),
		composer:   composer.New(st),
		ingestor:   composer.NewIngestor(g, lm, opts.Extractor, composer.WithLogger(log)),
		publisher:  pub,
		log:        log,
		inflight:   make(map[string]inflightCompose),
	}
}

// Store exposes the underlying store for maintenance commands.
func (e *Engine) Store() *store.Store { return e.store }

// Lifecycle exposes the assumption/intent manager.
func (e *Engine) Lifecycle() *lifecycle.Manager { return e.lifecycle }

// HandleChange applies one code-change event. Created and modified
// changes ingest structural and extracted knowledge; deletes flag
// concepts stale, archive covered assumptions, and orphan assumptions
// whose concepts all went stale.
func (e *Engine) HandleChange(ctx context.Context, change knowledge.CodeChangeEvent, raw string) error {
	if change.Kind == knowledge.ChangeDeleted {
		e.applyMu.Lock()
		defer e.applyMu.Unlock()
		return e.handleDelete(ctx, change.Location)
	}

	// Extraction happens before the apply lock so a slow provider never
	// stalls failure handling. Arrival order still holds: the watch loop
	// delivers change events sequentially.
	extraction, degraded, err := e.ingestor.ExtractKnowledge(ctx, change, raw)
	if err != nil {
		return err
	}
	if extraction != nil {
		e.degradedMu.Lock()
		e.extractDegraded = degraded
		e.degradedMu.Unlock()
	}

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	report, err := e.ingestor.ApplyExtraction(ctx, change, extraction, degraded)
	if err != nil {
		return err
	}
	if len(report.ConceptIDs) > 0 {
		ev := events.New(events.EventTypeConceptsUpdated, e.projectID)
		loc := change.Location.Normalize()
		ev.Location = &loc
		ev.ConceptIDs = report.ConceptIDs
		e.publish(ctx, ev)
	}
	e.announceDegrade(ctx)
	return nil
}

func (e *Engine) handleDelete(ctx context.Context, loc knowledge.CodeLocation) error {
	stale, err := e.graph.RemoveLocation(ctx, loc)
	if err != nil {
		return err
	}
	if _, err := e.lifecycle.ArchiveAt(ctx, loc); err != nil {
		return err
	}
	orphaned, err := e.lifecycle.MarkOrphaned(ctx, stale)
	if err != nil {
		return err
	}

	if len(stale) > 0 || len(orphaned) > 0 {
		ev := events.New(events.EventTypeConceptsUpdated, e.projectID)
		n := loc.Normalize()
		ev.Location = &n
		ev.ConceptIDs = stale
		ev.AssumptionIDs = orphaned
		ev.Detail = "location removed"
		e.publish(ctx, ev)
	}
	e.announceDegrade(ctx)
	return nil
}

// HandleFailure runs the classification pipeline on one failure signal.
// While provider extraction is degraded the resulting explanation rests
// on incomplete knowledge and is marked partial.
func (e *Engine) HandleFailure(ctx context.Context, signal knowledge.FailureSignal) (*knowledge.FailureRecord, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	record, err := e.classifier.Observe(ctx, signal)
	if err != nil {
		return nil, err
	}

	if e.extractionDegraded() && !record.PartialExplanation {
		record, err = e.markPartialExplanation(ctx, record.ID)
		if err != nil {
			return nil, err
		}
	}

	ev := events.New(events.EventTypeFailureClassified, e.projectID)
	ev.FailureID = record.ID
	ev.Detail = string(record.Class)
	if len(record.Locations) > 0 {
		loc := record.Locations[0]
		ev.Location = &loc
	}
	e.publish(ctx, ev)

	if len(record.ViolatedAssumptions) > 0 {
		sev := events.New(events.EventTypeAssumptionsSuspected, e.projectID)
		sev.FailureID = record.ID
		for _, ra := range record.ViolatedAssumptions {
			sev.AssumptionIDs = append(sev.AssumptionIDs, ra.AssumptionID)
		}
		e.publish(ctx, sev)
	}

	e.announceDegrade(ctx)
	return record, nil
}

// ConfirmResolution marks failures at a location resolved after a
// validated fix and publishes one event per resolved failure.
func (e *Engine) ConfirmResolution(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	resolved, err := e.classifier.ConfirmResolution(ctx, loc)
	if err != nil {
		return nil, err
	}
	for _, id := range resolved {
		ev := events.New(events.EventTypeFailureResolved, e.projectID)
		ev.FailureID = id
		e.publish(ctx, ev)
	}
	return resolved, nil
}

// NoteQuietAttempt counts one non-recurring attempt at a location and
// resolves failures whose quiet streak crossed the threshold.
func (e *Engine) NoteQuietAttempt(ctx context.Context, loc knowledge.CodeLocation) ([]string, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	resolved, err := e.classifier.NoteQuietAttempt(ctx, loc)
	if err != nil {
		return nil, err
	}
	for _, id := range resolved {
		ev := events.New(events.EventTypeFailureResolved, e.projectID)
		ev.FailureID = id
		e.publish(ctx, ev)
	}
	return resolved, nil
}

// RecordAttempt records a fix attempt against a failure.
func (e *Engine) RecordAttempt(ctx context.Context, failureID string, fp knowledge.ChangeFingerprint, outcome knowledge.AttemptOutcome) (*knowledge.RetryAttempt, error) {
	return e.retry.RecordAttempt(ctx, failureID, fp, outcome)
}

// UpdateAttemptOutcome records the observed re-execution result.
func (e *Engine) UpdateAttemptOutcome(ctx context.Context, attemptID string, outcome knowledge.AttemptOutcome) (*knowledge.RetryAttempt, error) {
	return e.retry.UpdateOutcome(ctx, attemptID, outcome)
}

// CheckRetry reports whether a proposed fix repeats a failed approach,
// publishing a retry-blocked event when it does.
func (e *Engine) CheckRetry(ctx context.Context, failureID string, proposed knowledge.ChangeFingerprint) (*retry.Verdict, error) {
	verdict, err := e.retry.CheckBeforeAttempt(failureID, proposed)
	if err != nil {
		return nil, err
	}
	if verdict.Blocked {
		ev := events.New(events.EventTypeRetryBlocked, e.projectID)
		ev.FailureID = failureID
		ev.AttemptID = verdict.MatchedAttemptID
		ev.Detail = verdict.Reason
		e.publish(ctx, ev)
	}
	return verdict, nil
}

// Compose builds a context package for the target. A newer Compose for
// the same location cancels the in-flight one; composition never writes,
// so cancellation cannot leave partial state.
func (e *Engine) Compose(ctx context.Context, target knowledge.CodeLocation, tokenBudget int) (*composer.ContextPackage, error) {
	key := target.Normalize().Key()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.composeMu.Lock()
	e.composeGen++
	gen := e.composeGen
	if prior, ok := e.inflight[key]; ok {
		prior.cancel()
	}
	e.inflight[key] = inflightCompose{cancel: cancel, gen: gen}
	e.composeMu.Unlock()

	defer func() {
		e.composeMu.Lock()
		if cur, ok := e.inflight[key]; ok && cur.gen == gen {
			delete(e.inflight, key)
		}
		e.composeMu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg := e.composer.Compose(target, tokenBudget)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// GetAssumptions returns the assumptions overlapping a location, most
// recently validated first.
func (e *Engine) GetAssumptions(loc knowledge.CodeLocation) []*knowledge.Assumption {
	return e.lifecycle.FindByLocation(loc)
}

// ConceptGraphView is a read-only snapshot of the concept graph.
type ConceptGraphView struct {
	Concepts []*knowledge.Concept     `json:"concepts"`
	Edges    []*knowledge.ConceptEdge `json:"edges"`
}

// GetConceptGraph returns the current concepts and edges, sorted for
// stable output.
func (e *Engine) GetConceptGraph() *ConceptGraphView {
	snap := e.store.Snapshot()
	view := &ConceptGraphView{}
	for _, c := range snap.Concepts {
		view.Concepts = append(view.Concepts, c.Clone())
	}
	for _, edge := range snap.Edges {
		view.Edges = append(view.Edges, edge.Clone())
	}
	sort.Slice(view.Concepts, func(i, j int) bool { return view.Concepts[i].ID < view.Concepts[j].ID })
	sort.Slice(view.Edges, func(i, j int) bool {
		return knowledge.EdgeKey(view.Edges[i].A, view.Edges[i].B) < knowledge.EdgeKey(view.Edges[j].A, view.Edges[j].B)
	})
	return view
}

// GetFailureReport returns every open failure, most recently observed
// first.
func (e *Engine) GetFailureReport() []*knowledge.FailureRecord {
	snap := e.store.Snapshot()
	var out []*knowledge.FailureRecord
	for _, f := range snap.Failures {
		if f.Open() {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastObservedAt.Equal(out[j].LastObservedAt) {
			return out[i].LastObservedAt.After(out[j].LastObservedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close persists and closes the underlying store and publisher.
func (e *Engine) Close() error {
	storeErr := e.store.Close()
	pubErr := e.publisher.Close()
	if storeErr != nil {
		return storeErr
	}
	return pubErr
}

func (e *Engine) publish(ctx context.Context, ev *events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.log.Warn("publish event", "type", ev.EventType, "error", err)
	}
}

func (e *Engine) extractionDegraded() bool {
	e.degradedMu.Lock()
	defer e.degradedMu.Unlock()
	return e.extractDegraded
}

// markPartialExplanation flags a failure record's explanation as built
// while extraction was degraded.
func (e *Engine) markPartialExplanation(ctx context.Context, failureID string) (*knowledge.FailureRecord, error) {
	var updated *knowledge.FailureRecord
	_, err := e.store.CommitWithRetry(ctx, func(snap *knowledge.ProjectKnowledge, tx *store.Transaction) error {
		cur, ok := snap.Failures[failureID]
		if !ok {
			return knowledge.NotFoundError{Kind: knowledge.KindFailureRecord, ID: failureID}
		}
		next := cur.Clone()
		next.PartialExplanation = true
		tx.Failures = append(tx.Failures, next)
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

// announceDegrade publishes the degraded-mode event once per transition
// into memory-only operation.
func (e *Engine) announceDegrade(ctx context.Context) {
	degraded := e.store.Degraded()

	e.degradedMu.Lock()
	shouldAnnounce := degraded && !e.degradedAnnounce
	e.degradedAnnounce = degraded
	e.degradedMu.Unlock()

	if shouldAnnounce {
		ev := events.New(events.EventTypeStoreDegraded, e.projectID)
		ev.Detail = "persistence failing, knowledge held in memory only"
		e.publish(ctx, ev)
	}
}

// inflightCompose tracks one in-flight composition so a newer request
// for the same location can supersede it.
type inflightCompose struct {
	cancel context.CancelFunc
	gen    uint64
}
