package llm

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option configures a provider.
type Option func(*options)

type options struct {
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the provider at a compatible gateway or a test server.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = url
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option, o options) options {
	o.maxTokens = defaultMaxTokens
	o.client = &http.Client{Timeout: 120 * time.Second}
	o.logger = zerolog.Nop()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
