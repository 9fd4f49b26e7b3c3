// Package gemini implements the Google Gemini API provider. It translates
// between the engine's request format and Gemini's generateContent format.
package gemini

import (
	"context"
	"net/http"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultMaxTokens is applied when the request does not specify one.
	DefaultMaxTokens = 1024
)

// Provider implements the Google Gemini API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Gemini provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets the base URL for API requests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the HTTP client for API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// CreateMessage sends a non-streaming request to Gemini.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	geminiReq := buildRequest(req)
	respBody, err := p.doRequest(ctx, req.Model, geminiReq)
	if err != nil {
		return nil, err
	}
	return parseResponse(respBody)
}

// StreamMessage sends a streaming request to Gemini and returns an SSE-backed
// stream.
func (p *Provider) StreamMessage(ctx context.Context, req *types.MessageRequest) (core.EventStream, error) {
	geminiReq := buildRequest(req)
	body, err := p.doStreamRequest(ctx, req.Model, geminiReq)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}
