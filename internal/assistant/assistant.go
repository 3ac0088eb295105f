// Package assistant is the seam between the enrichment step and the
// generative text backends that serve it.
package assistant

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vin-resolver/internal/config"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Default models per provider, used when none is configured.
var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-haiku-4-5-20251001",
	ProviderGemini:    "gemini-2.5-flash",
}

// Request is a single bounded completion request.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Usage is the token accounting reported by a backend.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is the raw text a backend produced. The text is untrusted.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Assistant produces free-form text for a prompt.
type Assistant interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Name() string
}

// New builds the backend selected by cfg.Provider. It returns nil, nil
// when enrichment is disabled.
func New(ctx context.Context, cfg config.EnrichmentConfig) (Assistant, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[provider]
	}

	switch provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, model, cfg.BaseURL), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, eris.New("assistant: anthropic requires an api key")
		}
		return NewAnthropic(cfg.APIKey, model, cfg.BaseURL), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, model, cfg.BaseURL)
	default:
		return nil, eris.Errorf("assistant: unknown provider %q", cfg.Provider)
	}
}
