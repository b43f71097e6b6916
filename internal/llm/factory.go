package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// New builds the provider named by s.Provider.
func New(ctx context.Context, s Settings, logger zerolog.Logger) (Provider, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	opts := []Option{
		WithModel(s.Model),
		WithBaseURL(s.BaseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithLogger(logger),
	}

	switch strings.ToLower(s.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIProvider(s.APIKey, opts...), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(s.APIKey, opts...), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, s.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
}
