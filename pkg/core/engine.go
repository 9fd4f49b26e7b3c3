package core

import (
	"context"
	"os"
	"strings"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// Engine routes LLM requests to registered providers. Model strings take the
// form "provider/model-name"; the provider prefix selects the back-end and
// the remainder is passed through.
type Engine struct {
	registry     *Registry
	providerKeys map[string]string
}

// NewEngine creates an Engine. If providerKeys is nil, API keys are resolved
// from <PROVIDER>_API_KEY environment variables.
func NewEngine(providerKeys map[string]string) *Engine {
	if providerKeys == nil {
		providerKeys = make(map[string]string)
	}
	return &Engine{
		registry:     NewRegistry(),
		providerKeys: providerKeys,
	}
}

// RegisterProvider adds a provider to the engine.
func (e *Engine) RegisterProvider(p Provider) {
	e.registry.Register(p)
}

// GetProvider returns a provider by name.
func (e *Engine) GetProvider(name string) (Provider, bool) {
	return e.registry.Get(name)
}

// CreateMessage routes a non-streaming request.
func (e *Engine) CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error) {
	provider, reqCopy, err := e.route(req)
	if err != nil {
		return nil, err
	}
	return provider.CreateMessage(ctx, reqCopy)
}

// StreamMessage routes a streaming request.
func (e *Engine) StreamMessage(ctx context.Context, req *types.MessageRequest) (EventStream, error) {
	provider, reqCopy, err := e.route(req)
	if err != nil {
		return nil, err
	}
	return provider.StreamMessage(ctx, reqCopy)
}

func (e *Engine) route(req *types.MessageRequest) (Provider, *types.MessageRequest, error) {
	providerName, modelName, err := ParseModelString(req.Model)
	if err != nil {
		return nil, nil, err
	}
	provider, ok := e.registry.Get(providerName)
	if !ok {
		return nil, nil, NewConfigError("provider %q not registered", providerName)
	}
	reqCopy := *req
	reqCopy.Model = modelName
	return provider, &reqCopy, nil
}

// APIKey returns the API key for a provider, checking explicit keys first and
// then the environment.
func (e *Engine) APIKey(provider string) string {
	if key, ok := e.providerKeys[provider]; ok {
		return key
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// ParseModelString splits a "provider/model-name" string.
func ParseModelString(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewConfigError("invalid model format %q, expected 'provider/model-name'", model)
	}
	return parts[0], parts[1], nil
}
