package metrics

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedgerCleanTurn(t *testing.T) {
	var closed []TurnRecord
	l := NewLedger(testLogger(), WithTurnSink(func(r TurnRecord) {
		closed = append(closed, r)
	}))

	l.OnSTT(STTEvent{SpeechID: "s1", AudioDuration: 3.2, Streamed: true})
	l.OnEOU(EOUEvent{SpeechID: "s1", EOUDelay: 0.25, TranscriptionDelay: 0.05})
	require.Empty(t, closed, "turn must not close before llm and tts report")

	l.OnLLM(LLMEvent{SpeechID: "s1", TTFT: 0.15, Duration: 1.1, Usage: types.Usage{
		PromptTokens: 1000, CompletionTokens: 40, TotalTokens: 1040,
	}})
	require.Empty(t, closed)

	l.OnTTS(TTSEvent{SpeechID: "s1", TTFB: 0.20, AudioDuration: 2.4, Characters: 120})
	require.Len(t, closed, 1)

	rec := closed[0]
	assert.Equal(t, "s1", rec.SpeechID)
	assert.InDelta(t, 0.60, rec.LatencySeconds, 1e-9)
	assert.Equal(t, 3.2, rec.STTSeconds)
	assert.True(t, rec.STTStreamed)
	assert.Equal(t, 1000, rec.PromptTokens)
	assert.False(t, rec.Abandoned)
	assert.False(t, rec.ClosedAt.IsZero())
}

func TestLedgerFinalizesOnce(t *testing.T) {
	l := NewLedger(testLogger())
	l.OnEOU(EOUEvent{SpeechID: "s1", EOUDelay: 0.2})
	l.OnLLM(LLMEvent{SpeechID: "s1", TTFT: 0.1})
	l.OnTTS(TTSEvent{SpeechID: "s1", TTFB: 0.1})
	require.Len(t, l.Records(), 1)

	// Late duplicates for a closed turn are dropped.
	l.OnTTS(TTSEvent{SpeechID: "s1", TTFB: 9.9})
	l.OnLLM(LLMEvent{SpeechID: "s1", TTFT: 9.9})
	recs := l.Records()
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.4, recs[0].LatencySeconds, 1e-9)
}

func TestLedgerDropsEventsWithoutSpeechID(t *testing.T) {
	l := NewLedger(testLogger())
	l.OnTTS(TTSEvent{TTFB: 0.3})
	l.OnEOU(EOUEvent{EOUDelay: 0.2})
	assert.Empty(t, l.Records())
	assert.Zero(t, l.Summarize().TTSAudioSeconds)
}

func TestLedgerWatchdogAbandonsStalledTurn(t *testing.T) {
	var closed []TurnRecord
	done := make(chan struct{})
	l := NewLedger(testLogger(),
		WithWatchdog(20*time.Millisecond),
		WithTurnSink(func(r TurnRecord) {
			closed = append(closed, r)
			close(done)
		}))

	// EOU arrives but the LLM never answers.
	l.OnEOU(EOUEvent{SpeechID: "stall", EOUDelay: 0.3})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}

	require.Len(t, closed, 1)
	assert.True(t, closed[0].Abandoned)
	assert.Zero(t, closed[0].LatencySeconds)

	// Abandoned turns do not drag down the averages.
	s := l.Summarize()
	assert.Equal(t, 0, s.Turns)
	assert.Equal(t, 1, s.AbandonedTurns)
	assert.Zero(t, s.AvgLatencySeconds)
}

func TestLedgerWatchdogStoppedByFinalize(t *testing.T) {
	l := NewLedger(testLogger(), WithWatchdog(20*time.Millisecond))
	l.OnEOU(EOUEvent{SpeechID: "s1", EOUDelay: 0.2})
	l.OnLLM(LLMEvent{SpeechID: "s1", TTFT: 0.1})
	l.OnTTS(TTSEvent{SpeechID: "s1", TTFB: 0.1})

	time.Sleep(50 * time.Millisecond)
	recs := l.Records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Abandoned)
}

func TestLedgerSummaryAverages(t *testing.T) {
	l := NewLedger(testLogger())
	for i, d := range []struct{ eou, ttft, ttfb float64 }{
		{0.2, 0.1, 0.1},
		{0.4, 0.3, 0.1},
	} {
		id := string(rune('a' + i))
		l.OnEOU(EOUEvent{SpeechID: id, EOUDelay: d.eou})
		l.OnLLM(LLMEvent{SpeechID: id, TTFT: d.ttft, Usage: types.Usage{PromptTokens: 100, TotalTokens: 100}})
		l.OnTTS(TTSEvent{SpeechID: id, TTFB: d.ttfb, AudioDuration: 1.5, Characters: 50})
	}

	s := l.Summarize()
	assert.Equal(t, 2, s.Turns)
	assert.InDelta(t, 0.6, s.AvgLatencySeconds, 1e-9)
	assert.InDelta(t, 0.2, s.AvgLLMTTFT, 1e-9)
	assert.InDelta(t, 0.1, s.AvgTTSTTFB, 1e-9)
	assert.Equal(t, 200, s.Usage.PromptTokens)
	assert.InDelta(t, 3.0, s.TTSAudioSeconds, 1e-9)
	assert.Equal(t, 100, s.TTSCharacters)
}

func TestLedgerShutdownFlushesPartials(t *testing.T) {
	l := NewLedger(testLogger())
	l.OnEOU(EOUEvent{SpeechID: "open", EOUDelay: 0.2})
	l.Shutdown()

	recs := l.Records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Abandoned)
}

func TestLedgerTranscriptAttachment(t *testing.T) {
	l := NewLedger(testLogger())
	l.OnEOU(EOUEvent{SpeechID: "s1", EOUDelay: 0.2})
	l.SetTranscript("s1", "I want a loan")
	l.SetAssistantText("s1", "Sure, let me help", true)
	l.OnLLM(LLMEvent{SpeechID: "s1", TTFT: 0.1})
	l.OnTTS(TTSEvent{SpeechID: "s1", TTFB: 0.1})

	rec := l.Records()[0]
	assert.Equal(t, "I want a loan", rec.UserTranscript)
	assert.Equal(t, "Sure, let me help", rec.AssistantText)
	assert.True(t, rec.Interrupted)
}
