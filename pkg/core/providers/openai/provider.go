// Package openai implements the OpenAI Chat Completions provider. Groq and
// other OpenAI-compatible back-ends reuse it with a different base URL.
package openai

import (
	"context"
	"net/http"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultMaxTokens is applied when the request does not specify one.
	DefaultMaxTokens = 1024
)

// Provider implements the OpenAI Chat Completions API.
type Provider struct {
	name         string
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	extraHeaders map[string]string
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		name:       "openai",
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint (OpenAI-compatible back-ends).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithName overrides the provider identifier.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// WithHeader adds an extra header to every request.
func WithHeader(key, value string) Option {
	return func(p *Provider) {
		if p.extraHeaders == nil {
			p.extraHeaders = make(map[string]string)
		}
		p.extraHeaders[key] = value
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return p.name }

// CreateMessage sends a non-streaming request.
func (p *Provider) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	chatReq := p.buildRequest(req)
	respBody, err := p.doRequest(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	return parseResponse(respBody)
}

// StreamMessage sends a streaming request and returns an SSE-backed stream.
func (p *Provider) StreamMessage(ctx context.Context, req *types.MessageRequest) (core.EventStream, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true
	chatReq.StreamOptions = &streamOptions{IncludeUsage: true}

	body, err := p.doStreamRequest(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}
