// Package openai implements extraction over the OpenAI chat completions
// API.
package openai

import (
	"context"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/keel/pkg/knowledge"
	"github.com/papercomputeco/keel/pkg/llm"
)

const defaultModel = "gpt-4o-mini"

type Extractor struct {
	client openaisdk.Client
	model  string
}

// New creates an OpenAI-backed extractor. An empty model selects the
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
		client: openaisdk.NewClient(opts...),
		model:  model,
	}
}

func (e *Extractor) Name() string { return "openai" }

func (e *Extractor) Extract(ctx context.Context, req llm.ExtractRequest) (*llm.Extraction, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(e.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(llm.SystemPrompt),
			openaisdk.UserMessage(buildUserText(req)),
		},
	})
	if err != nil {
		return nil, knowledge.ProviderError{Provider: e.Name(), Err: err}
	}
	if len(resp.Choices) == 0 {
		return &llm.Extraction{}, nil
	}

	extraction, err := llm.DecodeExtraction(resp.Choices[0].Message.Content, req.Location)
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
