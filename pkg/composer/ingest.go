package composer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/papercomputeco/keel/pkg/graph"
	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/lifecycle"
	"github.com/papercomputeco/keel/pkg/llm"
)

// Ingestor turns change events and raw agent output into stored
// knowledge. Extraction failures degrade to structural-only ingestion
// instead of failing the event.
type Ingestor struct {
	graph     *graph.Graph
	lifecycle *lifecycle.Manager
	extractor llm.Extractor
	log       *slog.Logger
}

// IngestOption configures an Ingestor.
type IngestOption func(*Ingestor)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) IngestOption {
	return func(i *Ingestor) { i.log = log }
}

// NewIngestor creates an ingestor. A nil extractor means structural-only
// ingestion.
func NewIngestor(g *graph.Graph, lm *lifecycle.Manager, ex llm.Extractor, opts ...IngestOption) *Ingestor {
	in := &Ingestor{
		graph:     g,
		lifecycle: lm,
		extractor: ex,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// IngestReport summarizes what one ingestion pass stored.
type IngestReport struct {
	ConceptIDs    []string `json:"concept_ids,omitempty"`
	IntentID      string   `json:"intent_id,omitempty"`
	AssumptionIDs []string `json:"assumption_ids,omitempty"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// IngestResult applies one change event plus the raw agent output that
// produced it. Structural detections from the event always land; the
// extractor adds intent, assumptions, and further detections when it is
// available and answers.
func (in *Ingestor) IngestResult(ctx context.Context, change knowledge.CodeChangeEvent, raw string) (*IngestReport, error) {
	extraction, degraded, err := in.ExtractKnowledge(ctx, change, raw)
	if err != nil {
		return nil, err
	}
	return in.ApplyExtraction(ctx, change, extraction, degraded)
}

// ExtractKnowledge runs the provider pass for one change event. It holds
// no locks and writes nothing, so callers may run it concurrently with
// store mutation. Returns a nil extraction when no extraction was
// attempted, and degraded true when the provider failed and the event
// should ingest structural knowledge only.
func (in *Ingestor) ExtractKnowledge(ctx context.Context, change knowledge.CodeChangeEvent, raw string) (*llm.Extraction, bool, error) {
	if in.extractor == nil || raw == "" {
		return nil, false, nil
	}

	got, err := in.extractor.Extract(ctx, llm.ExtractRequest{
		Location:          change.Location,
		StructuralSummary: change.StructuralSummary,
		Raw:               raw,
	})
	if err == nil {
		return got, false, nil
	}
	var perr knowledge.ProviderError
	if !errors.As(err, &perr) {
		return nil, false, err
	}
	in.log.Warn("extraction failed, ingesting structural knowledge only",
		"provider", perr.Provider, "error", perr.Err)
	return &llm.Extraction{}, true, nil
}

// ApplyExtraction stores the structural detections from the change event
// together with whatever the extraction pass produced. A nil extraction
// is treated as empty.
func (in *Ingestor) ApplyExtraction(ctx context.Context, change knowledge.CodeChangeEvent, extraction *llm.Extraction, degraded bool) (*IngestReport, error) {
	report := &IngestReport{Degraded: degraded}
	if extraction == nil {
		extraction = &llm.Extraction{}
	}

	detections := append(append([]knowledge.Detection(nil), change.Detections...), extraction.Detections...)
	concepts, err := in.graph.Upsert(ctx, detections)
	if err != nil {
		return nil, err
	}
	for _, c := range concepts {
		report.ConceptIDs = append(report.ConceptIDs, c.ID)
	}

	description := extraction.Intent
	if description == "" {
		description = change.StructuralSummary
	}
	if description != "" {
		intent, err := in.lifecycle.CaptureIntent(ctx, change, description, report.ConceptIDs, extraction.Tradeoff)
		if err != nil {
			return nil, err
		}
		report.IntentID = intent.ID
	}

	for _, cand := range extraction.Assumptions {
		linked := conceptsCovering(concepts, cand.Location)
		if len(linked) == 0 {
			linked = report.ConceptIDs
		}
		a, err := in.lifecycle.RecordAssumption(ctx, cand.Description, cand.Kind, cand.Location, linked)
		if err != nil {
			return nil, err
		}
		report.AssumptionIDs = append(report.AssumptionIDs, a.ID)
	}

	return report, nil
}

func conceptsCovering(concepts []*knowledge.Concept, loc knowledge.CodeLocation) []string {
	var out []string
	for _, c := range concepts {
		for _, cl := range c.Locations {
			if cl.Overlaps(loc) {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out
}
