package tts

import (
	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// NewProvider constructs a TTS provider by selector name. Sarvam selectors
// carry the speaker in the name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "cartesia":
		return NewCartesia(apiKey), nil
	case "sarvam_anushka":
		return NewSarvam(apiKey, "anushka"), nil
	case "sarvam_manisha":
		return NewSarvam(apiKey, "manisha"), nil
	default:
		return nil, core.NewConfigError("unknown tts provider %q", name)
	}
}
