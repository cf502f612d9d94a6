// Package nop is the offline extractor: it answers every request with an
// empty extraction so ingestion degrades to structural-only knowledge.
package nop

import (
	"context"

	"github.com/papercomputeco/keel/pkg/llm"
)

type Extractor struct{}

// New returns the no-op extractor.
func New() *Extractor { return &Extractor{} }

func (e *Extractor) Name() string { return "nop" }

func (e *Extractor) Extract(_ context.Context, _ llm.ExtractRequest) (*llm.Extraction, error) {
	return &llm.Extraction{}, nil
}
