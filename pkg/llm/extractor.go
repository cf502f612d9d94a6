// Package llm defines the provider-neutral extraction contract: turning
// raw agent output and diff text into structured concepts, intents, and
// assumptions. Provider implementations live under pkg/llm/provider.
package llm

import (
	"context"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// ExtractRequest carries the raw material for one extraction pass.
type ExtractRequest struct {
	ProjectID         string                 `json:"project_id"`
	Location          knowledge.CodeLocation `json:"location"`
	StructuralSummary string                 `json:"structural_summary,omitempty"`
	Raw               string                 `json:"raw"`
}

// CandidateAssumption is one assumption proposed by the extractor. It is
// recorded as untested; validation happens downstream.
type CandidateAssumption struct {
	Description string                   `json:"description"`
	Kind        knowledge.AssumptionKind `json:"kind"`
	Location    knowledge.CodeLocation   `json:"location"`
}

// Extraction is the structured result of one pass over raw agent output.
// All fields are optional; an empty extraction is a valid answer.
type Extraction struct {
	Detections  []knowledge.Detection `json:"detections,omitempty"`
	Intent      string                `json:"intent,omitempty"`
	Assumptions []CandidateAssumption `json:"assumptions,omitempty"`
	Tradeoff    *knowledge.Tradeoff   `json:"tradeoff,omitempty"`
}

// Empty reports whether the extraction carries nothing usable.
func (e *Extraction) Empty() bool {
	return e == nil || (len(e.Detections) == 0 && e.Intent == "" && len(e.Assumptions) == 0 && e.Tradeoff == nil)
}

// Extractor turns raw agent output into a structured Extraction. A
// failing provider must wrap its error in knowledge.ProviderError so
// callers can degrade to structural-only ingestion.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req ExtractRequest) (*Extraction, error)
}
