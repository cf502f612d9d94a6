package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/papercomputeco/keel/pkg/knowledge"
)

// SystemPrompt is the instruction shared by all chat-based providers. The
// model must answer with a single JSON object matching wireExtraction.
const SystemPrompt = `You analyze a code change made by an AI coding agent.
From the raw output below, extract:
- "detections": architectural concepts the change touches. Each has
  "category" (one of: auth, async_flow, caching, persistence, validation,
  error_handling, transport, concurrency, configuration), "name",
  "signature", "file", "start_line", "end_line", and "confidence" (0..1).
- "intent": one sentence describing why the change was made.
- "assumptions": implicit assumptions the change depends on. Each has
  "description", "kind" (precondition, postcondition, invariant, or
  dependency), "file", "start_line", "end_line".
- "tradeoff": if the change picked one approach over alternatives, an
  object with "decision", "rationale", and "rejected" (list of strings).
Answer with a single JSON object and nothing else. Omit anything you are
not confident about; an empty object is a valid answer.`

// wireExtraction is the JSON shape providers ask the model to produce.
// It is flattened relative to Extraction so the model never has to emit
// nested location objects.
type wireExtraction struct {
	Detections []struct {
		Category   string  `json:"category"`
		Name       string  `json:"name"`
		Signature  string  `json:"signature"`
		File       string  `json:"file"`
		StartLine  int     `json:"start_line"`
		EndLine    int     `json:"end_line"`
		Confidence float64 `json:"confidence"`
	} `json:"detections"`
	Intent      string `json:"intent"`
	Assumptions []struct {
		Description string `json:"description"`
		Kind        string `json:"kind"`
		File        string `json:"file"`
		StartLine   int    `json:"start_line"`
		EndLine     int    `json:"end_line"`
	} `json:"assumptions"`
	Tradeoff *struct {
		Decision  string   `json:"decision"`
		Rationale string   `json:"rationale"`
		Rejected  []string `json:"rejected"`
	} `json:"tradeoff"`
}

// DecodeExtraction parses a model answer into an Extraction. Code fences
// around the JSON are tolerated; anything else is an error. Detections
// with an unusable category or location are dropped rather than failing
// the whole pass.
func DecodeExtraction(text string, fallback knowledge.CodeLocation) (*Extraction, error) {
	trimmed := stripFences(text)
	if trimmed == "" {
		return &Extraction{}, nil
	}

	var wire wireExtraction
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, fmt.Errorf("malformed extraction payload: %w", err)
	}

	out := &Extraction{Intent: strings.TrimSpace(wire.Intent)}

	for _, d := range wire.Detections {
		loc := locationOr(fallback, d.File, d.StartLine, d.EndLine)
		if !loc.Valid() {
			continue
		}
		cat := knowledge.ParseCategory(d.Category)
		if cat == knowledge.CategoryUnknown {
			continue
		}
		conf := d.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		out.Detections = append(out.Detections, knowledge.Detection{
			Category:   cat,
			Name:       strings.TrimSpace(d.Name),
			Signature:  strings.TrimSpace(d.Signature),
			Location:   loc,
			Confidence: conf,
		})
	}

	for _, a := range wire.Assumptions {
		desc := strings.TrimSpace(a.Description)
		if desc == "" {
			continue
		}
		loc := locationOr(fallback, a.File, a.StartLine, a.EndLine)
		if !loc.Valid() {
			continue
		}
		out.Assumptions = append(out.Assumptions, CandidateAssumption{
			Description: desc,
			Kind:        knowledge.ParseAssumptionKind(a.Kind),
			Location:    loc,
		})
	}

	if wire.Tradeoff != nil && strings.TrimSpace(wire.Tradeoff.Decision) != "" {
		out.Tradeoff = &knowledge.Tradeoff{
			Decision:     strings.TrimSpace(wire.Tradeoff.Decision),
			Rationale:    strings.TrimSpace(wire.Tradeoff.Rationale),
			Alternatives: append([]string(nil), wire.Tradeoff.Rejected...),
		}
	}

	return out, nil
}

func locationOr(fallback knowledge.CodeLocation, file string, start, end int) knowledge.CodeLocation {
	loc := knowledge.CodeLocation{File: strings.TrimSpace(file), StartLine: start, EndLine: end}.Normalize()
	if loc.Valid() {
		return loc
	}
	return fallback.Normalize()
}

// stripFences removes a surrounding markdown code fence, with or without
// a language tag, and returns the trimmed inner text.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
