// Package provider constructs concrete llm.Extractor implementations by
// provider name.
package provider

import (
	"fmt"

	"github.com/papercomputeco/keel/pkg/llm"
	"github.com/papercomputeco/keel/pkg/llm/provider/anthropic"
	"github.com/papercomputeco/keel/pkg/llm/provider/nop"
	"github.com/papercomputeco/keel/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	Anthropic = "anthropic"
	OpenAI    = "openai"
	Nop       = "nop"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{Anthropic, OpenAI, Nop}
}

// Config carries the provider connection settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// New creates an Extractor for the given provider type. The nop provider
// needs no configuration and is the offline default.
func New(providerType string, cfg Config) (llm.Extractor, error) {
	switch providerType {
	case Anthropic:
		return anthropic.New(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case OpenAI:
		return openai.New(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case Nop, "":
		return nop.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", providerType, SupportedProviders())
	}
}
