package costs

import (
	"github.com/shopspring/decimal"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// Places is the rounding precision for every cost figure.
const Places = 6

// TTSUsage is what a synthesis provider consumed over a span of speech.
type TTSUsage struct {
	Characters    int
	AudioSeconds  float64
	InputTokens   int
	OutputSeconds float64
}

// Breakdown is the priced view of a session, each figure rounded to six
// decimal places.
type Breakdown struct {
	LLM   float64 `json:"llm_cost"`
	STT   float64 `json:"stt_cost"`
	TTS   float64 `json:"tts_cost"`
	Total float64 `json:"total_cost"`
}

// Calculator prices usage against loaded rate tables.
type Calculator struct {
	tables *Tables
}

// NewCalculator wraps the given tables.
func NewCalculator(tables *Tables) *Calculator {
	return &Calculator{tables: tables}
}

func round(d decimal.Decimal) float64 {
	f, _ := d.Round(Places).Float64()
	return f
}

// LLMCost prices token usage. Cached prompt tokens are billed at the cached
// rate and subtracted from the uncached prompt count.
func (c *Calculator) LLMCost(provider string, u types.Usage) (float64, error) {
	rate, ok := c.tables.LLM[provider]
	if !ok {
		return 0, missingRate("llm", provider)
	}
	uncached := u.PromptTokens - u.PromptCachedTokens
	if uncached < 0 {
		uncached = 0
	}
	cost := decimal.NewFromInt(int64(uncached)).Mul(decimal.NewFromFloat(rate.InputRate)).
		Add(decimal.NewFromInt(int64(u.PromptCachedTokens)).Mul(decimal.NewFromFloat(rate.cachedRate()))).
		Add(decimal.NewFromInt(int64(u.CompletionTokens)).Mul(decimal.NewFromFloat(rate.OutputRate)))
	return round(cost), nil
}

// STTCost prices transcribed audio by duration.
func (c *Calculator) STTCost(provider string, audioSeconds float64) (float64, error) {
	rate, ok := c.tables.STT[provider]
	if !ok {
		return 0, missingRate("stt", provider)
	}
	cost := decimal.NewFromFloat(audioSeconds).Mul(decimal.NewFromFloat(rate.RatePerSecond))
	return round(cost), nil
}

// TTSCost prices synthesis additively over whichever rate keys the provider
// publishes.
func (c *Calculator) TTSCost(provider string, u TTSUsage) (float64, error) {
	rate, ok := c.tables.TTS[provider]
	if !ok {
		return 0, missingRate("tts", provider)
	}
	cost := decimal.NewFromInt(int64(u.Characters)).Mul(decimal.NewFromFloat(rate.RatePerCharacter)).
		Add(decimal.NewFromFloat(u.AudioSeconds).Mul(decimal.NewFromFloat(rate.RatePerSecond))).
		Add(decimal.NewFromInt(int64(u.InputTokens)).Mul(decimal.NewFromFloat(rate.RatePerInputToken))).
		Add(decimal.NewFromFloat(u.OutputSeconds).Mul(decimal.NewFromFloat(rate.RatePerOutputSecond)))
	return round(cost), nil
}

// SessionCost prices a whole session across the three providers.
func (c *Calculator) SessionCost(llm, stt, tts string, u types.Usage, sttSeconds float64, ttsUsage TTSUsage) (Breakdown, error) {
	var b Breakdown
	var err error
	if b.LLM, err = c.LLMCost(llm, u); err != nil {
		return Breakdown{}, err
	}
	if b.STT, err = c.STTCost(stt, sttSeconds); err != nil {
		return Breakdown{}, err
	}
	if b.TTS, err = c.TTSCost(tts, ttsUsage); err != nil {
		return Breakdown{}, err
	}
	b.Total = round(decimal.NewFromFloat(b.LLM).
		Add(decimal.NewFromFloat(b.STT)).
		Add(decimal.NewFromFloat(b.TTS)))
	return b, nil
}
