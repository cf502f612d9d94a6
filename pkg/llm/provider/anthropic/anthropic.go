// Package anthropic implements extraction over the Anthropic Messages
// API.
package anthropic

import (
	"context"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/llm"
)

const defaultModel = "claude-sonnet-4-20250514"

const maxExtractionTokens = 2048

type Extractor struct {
	client anthropicsdk.Client
	model  string
}

// New creates an Anthropic-backed extractor. An empty model selects the
// default.
func New(apiKey, baseURL, model string) *Extractor {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	if strings.TrimSpace(model) == "" {
		model = defaultModel
	}
	return &Extractor{
		client: anthropicsdk.NewClient(opts...),
		model:  model,
	}
}

func (e *Extractor) Name() string { return "anthropic" }

func (e *Extractor) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.Extraction, error) {
	msg, err := e.client.Messages.New(ctx, anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(e.model),
		MaxTokens: maxExtractionTokens,
		System:    []anthropicsdk.TextBlockParam{{Text: llm.SystemPrompt}},
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(buildUserText(req))),
		},
	})
	if err != nil {
		return nil, knowledge.ProviderError{Provider: e.Name(), Err: err}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	extraction, err := llm.DecodeExtraction(text.String(), req.Location)
	if err != nil {
		return nil, knowledge.ProviderError{Provider: e.Name(), Err: err}
	}
	return extraction, nil
}

func buildUserText(req llm.ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Changed location: ")
	b.WriteString(req.Location.Key())
	b.WriteString("\n")
	if req.StructuralSummary != "" {
		b.WriteString("Structural summary: ")
		b.WriteString(req.StructuralSummary)
		b.WriteString("\n")
	}
	b.WriteString("\nRaw output:\n")
	b.WriteString(req.Raw)
	return b.String()
}
