package stt

import (
	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// NewProvider constructs a streaming STT provider by selector name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "deepgram":
		return NewDeepgram(apiKey), nil
	case "sarvam":
		return NewSarvam(apiKey), nil
	case "cartesia":
		return NewCartesia(apiKey), nil
	default:
		return nil, core.NewConfigError("unknown stt provider %q", name)
	}
}
