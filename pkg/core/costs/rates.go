// Package costs prices session usage from provider rate tables.
package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// Rate-table file names, looked up under the configured directory.
const (
	LLMRatesFile = "llm_rates.json"
	STTRatesFile = "stt_rates.json"
	TTSRatesFile = "tts_rates.json"
)

// LLMRate prices tokens in USD per token.
type LLMRate struct {
	InputRate       float64  `json:"input_rate"`
	CachedInputRate *float64 `json:"cached_input_rate,omitempty"`
	OutputRate      float64  `json:"output_rate"`
}

// cachedRate falls back to the input rate when a provider publishes no
// separate cached price.
func (r LLMRate) cachedRate() float64 {
	if r.CachedInputRate != nil {
		return *r.CachedInputRate
	}
	return r.InputRate
}

// STTRate prices transcription in USD per second of audio.
type STTRate struct {
	RatePerSecond float64 `json:"rate_per_second"`
}

// TTSRate prices synthesis. Providers publish different subsets; absent
// keys contribute nothing.
type TTSRate struct {
	RatePerCharacter    float64 `json:"rate_per_character,omitempty"`
	RatePerSecond       float64 `json:"rate_per_second,omitempty"`
	RatePerInputToken   float64 `json:"rate_per_input_token,omitempty"`
	RatePerOutputSecond float64 `json:"rate_per_output_second,omitempty"`
}

// Tables holds all three rate tables keyed by provider name.
type Tables struct {
	LLM map[string]LLMRate
	STT map[string]STTRate
	TTS map[string]TTSRate
}

// LoadTables reads the three rate-table files from dir. A missing or
// malformed file is a configuration error.
func LoadTables(dir string) (*Tables, error) {
	t := &Tables{}
	if err := loadJSON(filepath.Join(dir, LLMRatesFile), &t.LLM); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, STTRatesFile), &t.STT); err != nil {
		return nil, err
	}
	if err := loadJSON(filepath.Join(dir, TTSRatesFile), &t.TTS); err != nil {
		return nil, err
	}
	return t, nil
}

func loadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.NewConfigError("reading rate table %s: %v", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.NewConfigError("parsing rate table %s: %v", path, err)
	}
	return nil
}

// missingRate wraps core.ErrRateMissing with the offending provider.
func missingRate(kind, provider string) error {
	return fmt.Errorf("%w: no %s rate for provider %q", core.ErrRateMissing, kind, provider)
}
