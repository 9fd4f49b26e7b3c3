// Package turn decides whether a finished transcript segment ends the
// user's conversational turn.
package turn

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Result is the detector's verdict for one candidate end of turn.
type Result struct {
	EndOfTurn  bool    `json:"end_of_turn"`
	Confidence float64 `json:"confidence"`
}

// Detector classifies candidate end-of-turn points. OnFinalText is called
// with the accumulated user transcript and the silence observed since the
// last final segment.
type Detector interface {
	OnFinalText(ctx context.Context, text string, silence time.Duration) (Result, error)
}

// HeuristicConfig tunes the language-independent detector.
type HeuristicConfig struct {
	// PunctuationTrigger lists sentence-final runes that mark a likely end
	// of turn. The default covers Latin and Devanagari scripts.
	PunctuationTrigger string `json:"punctuation_trigger"`

	// MinWords is the minimum word count before any end of turn fires.
	MinWords int `json:"min_words"`

	// SilenceConfirm is the silence after which an unpunctuated transcript
	// still counts as an end of turn.
	SilenceConfirm time.Duration `json:"silence_confirm"`
}

// DefaultHeuristicConfig returns defaults suitable for Hindi and English.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		PunctuationTrigger: ".!?।॥",
		MinWords:           1,
		SilenceConfirm:     800 * time.Millisecond,
	}
}

// Heuristic is a multilingual punctuation-and-silence detector.
type Heuristic struct {
	cfg HeuristicConfig
}

// NewHeuristic creates a heuristic detector.
func NewHeuristic(cfg HeuristicConfig) *Heuristic {
	if cfg.PunctuationTrigger == "" {
		cfg.PunctuationTrigger = DefaultHeuristicConfig().PunctuationTrigger
	}
	return &Heuristic{cfg: cfg}
}

// OnFinalText implements Detector.
func (h *Heuristic) OnFinalText(_ context.Context, text string, silence time.Duration) (Result, error) {
	trimmed := strings.TrimRightFunc(strings.TrimSpace(text), unicode.IsSpace)
	if trimmed == "" {
		return Result{}, nil
	}
	if len(strings.Fields(trimmed)) < h.cfg.MinWords {
		return Result{}, nil
	}

	runes := []rune(trimmed)
	last := runes[len(runes)-1]
	if strings.ContainsRune(h.cfg.PunctuationTrigger, last) {
		return Result{EndOfTurn: true, Confidence: 0.9}, nil
	}
	if h.cfg.SilenceConfirm > 0 && silence >= h.cfg.SilenceConfirm {
		return Result{EndOfTurn: true, Confidence: 0.6}, nil
	}
	return Result{Confidence: 0.2}, nil
}

// CompletionChecker asks a language model whether the transcript reads as
// complete. Implemented by the session's LLM engine wiring.
type CompletionChecker interface {
	CheckTurnComplete(ctx context.Context, transcript string) (bool, error)
}

// Semantic layers a model-based completion check over a heuristic. The
// heuristic proposes a candidate; the model confirms or vetoes it. Model
// failure counts as confirmation so a dead check never stalls the call.
type Semantic struct {
	heuristic *Heuristic
	checker   CompletionChecker
	timeout   time.Duration
}

// NewSemantic creates a semantic detector.
func NewSemantic(heuristic *Heuristic, checker CompletionChecker) *Semantic {
	return &Semantic{
		heuristic: heuristic,
		checker:   checker,
		timeout:   1200 * time.Millisecond,
	}
}

// OnFinalText implements Detector.
func (s *Semantic) OnFinalText(ctx context.Context, text string, silence time.Duration) (Result, error) {
	res, err := s.heuristic.OnFinalText(ctx, text, silence)
	if err != nil || !res.EndOfTurn {
		return res, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	complete, err := s.checker.CheckTurnComplete(checkCtx, text)
	if err != nil {
		// Treat as complete rather than stalling the turn.
		return Result{EndOfTurn: true, Confidence: 0.5}, nil
	}
	if !complete {
		return Result{Confidence: 0.3}, nil
	}
	return Result{EndOfTurn: true, Confidence: 0.95}, nil
}

// CompletionPrompt is the prompt template for model completion checks.
const CompletionPrompt = `Voice transcript: "%s"

You are part of a live voice agent. Decide from the transcript of what the
user has said since the agent last spoke whether the user is done talking
and the agent should respond, or the user is mid-thought and the agent
should wait.

YES = the user is done talking
NO = the user is not done talking

Reply only: YES or NO`

// ParseCompletionResponse interprets the model's reply.
func ParseCompletionResponse(response string) bool {
	return strings.Contains(strings.ToUpper(strings.TrimSpace(response)), "YES")
}
