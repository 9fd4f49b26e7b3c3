// Package groq implements the Groq API provider. Groq exposes an
// OpenAI-compatible API, so this provider wraps the OpenAI provider with a
// different base URL.
package groq

import (
	"context"
	"net/http"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/providers/openai"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// DefaultBaseURL is the Groq API endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Provider implements the Groq API.
type Provider struct {
	inner *openai.Provider
}

// New creates a new Groq provider.
func New(apiKey string, opts ...Option) *Provider {
	cfg := options{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Provider{
		inner: openai.New(apiKey,
			openai.WithName("groq"),
			openai.WithBaseURL(cfg.baseURL),
			openai.WithHTTPClient(cfg.httpClient),
		),
	}
}

type options struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the provider.
type Option func(*options)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "groq" }

// CreateMessage sends a non-streaming request to Groq.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	return p.inner.CreateMessage(ctx, req)
}

// StreamMessage sends a streaming request to Groq.
func (p *Provider) StreamMessage(ctx context.Context, req *types.MessageRequest) (core.EventStream, error) {
	return p.inner.StreamMessage(ctx, req)
}
