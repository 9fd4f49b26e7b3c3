package turn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHeuristic_PunctuationEndsTurn(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	res, err := h.OnFinalText(context.Background(), "I want to know my due date.", 0)
	if err != nil {
		t.Fatalf("OnFinalText() error = %v", err)
	}
	if !res.EndOfTurn || res.Confidence < 0.8 {
		t.Fatalf("result = %+v, want confident end of turn", res)
	}
}

func TestHeuristic_DevanagariDanda(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	res, err := h.OnFinalText(context.Background(), "मुझे जानकारी चाहिए।", 0)
	if err != nil {
		t.Fatalf("OnFinalText() error = %v", err)
	}
	if !res.EndOfTurn {
		t.Fatalf("result = %+v, want end of turn on danda", res)
	}
}

func TestHeuristic_SilenceConfirmsUnpunctuated(t *testing.T) {
	h := NewHeuristic(DefaultHeuristicConfig())

	res, _ := h.OnFinalText(context.Background(), "maybe next month", 200*time.Millisecond)
	if res.EndOfTurn {
		t.Fatalf("result = %+v, want no end of turn on short silence", res)
	}
	res, _ = h.OnFinalText(context.Background(), "maybe next month", time.Second)
	if !res.EndOfTurn {
		t.Fatalf("result = %+v, want end of turn after long silence", res)
	}
}

func TestHeuristic_EmptyAndBelowMinWords(t *testing.T) {
	cfg := DefaultHeuristicConfig()
	cfg.MinWords = 2
	h := NewHeuristic(cfg)

	if res, _ := h.OnFinalText(context.Background(), "", time.Second); res.EndOfTurn {
		t.Fatal("empty text must not end a turn")
	}
	if res, _ := h.OnFinalText(context.Background(), "Hello.", 0); res.EndOfTurn {
		t.Fatal("single word below MinWords must not end a turn")
	}
}

type fakeChecker struct {
	complete bool
	err      error
	called   int
}

func (f *fakeChecker) CheckTurnComplete(ctx context.Context, transcript string) (bool, error) {
	f.called++
	return f.complete, f.err
}

func TestSemantic_ModelVetoesHeuristic(t *testing.T) {
	checker := &fakeChecker{complete: false}
	d := NewSemantic(NewHeuristic(DefaultHeuristicConfig()), checker)

	res, err := d.OnFinalText(context.Background(), "So what I wanted to say.", 0)
	if err != nil {
		t.Fatalf("OnFinalText() error = %v", err)
	}
	if res.EndOfTurn {
		t.Fatalf("result = %+v, want veto from model", res)
	}
	if checker.called != 1 {
		t.Fatalf("checker called %d times, want 1", checker.called)
	}
}

func TestSemantic_CheckerErrorCountsAsComplete(t *testing.T) {
	checker := &fakeChecker{err: errors.New("model down")}
	d := NewSemantic(NewHeuristic(DefaultHeuristicConfig()), checker)

	res, err := d.OnFinalText(context.Background(), "That is all.", 0)
	if err != nil {
		t.Fatalf("OnFinalText() error = %v", err)
	}
	if !res.EndOfTurn {
		t.Fatalf("result = %+v, want end of turn despite checker failure", res)
	}
}

func TestSemantic_SkipsCheckWhenHeuristicDeclines(t *testing.T) {
	checker := &fakeChecker{complete: true}
	d := NewSemantic(NewHeuristic(DefaultHeuristicConfig()), checker)

	res, _ := d.OnFinalText(context.Background(), "umm so", 0)
	if res.EndOfTurn {
		t.Fatalf("result = %+v, want no end of turn", res)
	}
	if checker.called != 0 {
		t.Fatalf("checker called %d times, want 0", checker.called)
	}
}

func TestParseCompletionResponse(t *testing.T) {
	if !ParseCompletionResponse("  yes") || !ParseCompletionResponse("YES.") {
		t.Fatal("yes variants should parse as complete")
	}
	if ParseCompletionResponse("NO") {
		t.Fatal("NO should parse as incomplete")
	}
}
