package live

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/metrics"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/stt"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/tts"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
)

// pcmFrame builds a 20ms mono frame of constant amplitude at 16kHz.
func pcmFrame(amplitude int16) []byte {
	const samples = 320 // 20ms at 16kHz
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

// --- fakes ---

type scriptedStream struct {
	events []types.StreamEvent
	i      int
}

func (s *scriptedStream) Next() (types.StreamEvent, error) {
	if s.i >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

type fakeLLM struct {
	events []types.StreamEvent
}

func (f *fakeLLM) CreateMessage(_ context.Context, _ *types.MessageRequest) (*types.MessageResponse, error) {
	return &types.MessageResponse{Text: "YES"}, nil
}

func (f *fakeLLM) StreamMessage(_ context.Context, _ *types.MessageRequest) (core.EventStream, error) {
	evs := make([]types.StreamEvent, len(f.events))
	copy(evs, f.events)
	return &scriptedStream{events: evs}, nil
}

type fakeSTTStream struct {
	mu          sync.Mutex
	transcripts chan stt.TranscriptDelta
	done        chan struct{}
	closed      bool
	finalText   string
}

func (f *fakeSTTStream) SendAudio([]byte) error { return nil }

func (f *fakeSTTStream) Transcripts() <-chan stt.TranscriptDelta { return f.transcripts }

func (f *fakeSTTStream) Finalize() error {
	f.mu.Lock()
	text := f.finalText
	f.mu.Unlock()
	if text == "" {
		return nil
	}
	select {
	case f.transcripts <- stt.TranscriptDelta{Text: text, IsFinal: true, AudioDuration: 1.2}:
	case <-f.done:
	}
	return nil
}

func (f *fakeSTTStream) push(delta stt.TranscriptDelta) {
	select {
	case f.transcripts <- delta:
	case <-f.done:
	}
}

func (f *fakeSTTStream) Done() <-chan struct{} { return f.done }

func (f *fakeSTTStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

type fakeSTT struct {
	stream *fakeSTTStream
}

func (f *fakeSTT) Name() string { return "fakestt" }

func (f *fakeSTT) NewStream(_ context.Context, _ stt.StreamOptions) (stt.Stream, error) {
	return f.stream, nil
}

type fakeTTS struct {
	chunks     int
	chunkDelay time.Duration
}

func (f *fakeTTS) Name() string { return "faketts" }

func (f *fakeTTS) NewStreamingContext(_ context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error) {
	sc := tts.NewStreamingContext(opts.SampleRate)
	chunks := f.chunks
	if chunks == 0 {
		chunks = 1
	}
	var once sync.Once
	sc.SendFunc = func(_ string, isFinal bool) error {
		if !isFinal {
			return nil
		}
		once.Do(func() {
			go func() {
				for i := 0; i < chunks; i++ {
					if f.chunkDelay > 0 {
						time.Sleep(f.chunkDelay)
					}
					if !sc.PushAudio(make([]byte, 640)) {
						return
					}
				}
				sc.FinishAudio()
			}()
		})
		return nil
	}
	return sc, nil
}

// --- helpers ---

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.VAD = vad.Config{
		MinSpeechDuration:   40 * time.Millisecond,
		MinSilenceDuration:  40 * time.Millisecond,
		ActivationThreshold: 0.02,
		PrefixPadding:       20 * time.Millisecond,
		MaxBufferedSpeech:   5 * time.Second,
	}
	cfg.Tuning.MinEndpointingDelay = 10 * time.Millisecond
	cfg.Tuning.MaxEndpointingDelay = 200 * time.Millisecond
	cfg.Tuning.MinInterruptionDuration = 40 * time.Millisecond
	cfg.Tuning.AgentFalseInterruptionTimeout = 50 * time.Millisecond
	return cfg
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func drainEvents(s *Session) {
	go func() {
		for range s.Events() {
		}
	}()
}

func feedSpeech(s *Session, loud, silent int) {
	for i := 0; i < loud; i++ {
		s.SendAudio(pcmFrame(16000))
		time.Sleep(2 * time.Millisecond)
	}
	for i := 0; i < silent; i++ {
		s.SendAudio(pcmFrame(0))
		time.Sleep(2 * time.Millisecond)
	}
}

// --- tests ---

func TestSessionCleanTurn(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "I want a loan.",
	}
	llm := &fakeLLM{events: []types.StreamEvent{
		types.TextDeltaEvent{Text: "Sure, I can"},
		types.TextDeltaEvent{Text: " help with that."},
		types.CompletionEvent{StopReason: "end_turn", Usage: types.Usage{PromptTokens: 50, CompletionTokens: 8, TotalTokens: 58}},
	}}
	ledger := metrics.NewLedger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	s := NewSession(testConfig(), llm, &fakeSTT{stream: sttStream}, &fakeTTS{}, WithLedger(ledger))
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	drainEvents(s)

	feedSpeech(s, 4, 4)

	eventually(t, func() bool {
		turns := s.Chat().Turns()
		return len(turns) == 2 && turns[1].Role == types.RoleAssistant
	}, "expected a completed user+assistant turn")

	eventually(t, func() bool { return s.State() == StateIdle }, "expected return to idle")

	turns := s.Chat().Turns()
	if turns[0].Text != "I want a loan." {
		t.Errorf("user turn = %q", turns[0].Text)
	}
	if turns[1].Text != "Sure, I can help with that." {
		t.Errorf("assistant turn = %q", turns[1].Text)
	}
	if turns[1].Interrupted {
		t.Error("clean turn must not be marked interrupted")
	}

	recs := ledger.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Abandoned {
		t.Error("turn should have finalized, not abandoned")
	}
	if rec.LatencySeconds <= 0 {
		t.Errorf("latency = %v, want > 0", rec.LatencySeconds)
	}
	if rec.PromptTokens != 50 || rec.CompletionTokens != 8 {
		t.Errorf("token counts = %d/%d", rec.PromptTokens, rec.CompletionTokens)
	}
	if rec.UserTranscript != "I want a loan." {
		t.Errorf("transcript = %q", rec.UserTranscript)
	}
}

func TestSessionBargeIn(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "Tell me about interest rates.",
	}
	llm := &fakeLLM{events: []types.StreamEvent{
		types.TextDeltaEvent{Text: "The current rate is very"},
		types.TextDeltaEvent{Text: " attractive, let me explain in detail."},
		types.CompletionEvent{StopReason: "end_turn", Usage: types.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42}},
	}}

	// Long synthesis keeps the agent speaking while the user barges in.
	s := NewSession(testConfig(), llm, &fakeSTT{stream: sttStream}, &fakeTTS{chunks: 50, chunkDelay: 20 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()
	drainEvents(s)

	feedSpeech(s, 4, 4)
	eventually(t, func() bool { return s.State() == StateAgentSpeaking }, "expected agent speaking")

	// Decoded words first, then sustained speech energy.
	sttStream.push(stt.TranscriptDelta{Text: "wait stop", IsFinal: true})
	for i := 0; i < 8; i++ {
		s.SendAudio(pcmFrame(16000))
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, func() bool { return s.State() == StateUserSpeaking }, "expected barge-in to user speaking")

	turns := s.Chat().Turns()
	if len(turns) < 2 {
		t.Fatalf("turns = %d, want >= 2", len(turns))
	}
	last := turns[len(turns)-1]
	if last.Role != types.RoleAssistant || !last.Interrupted {
		t.Errorf("last turn = %+v, want interrupted assistant", last)
	}
}

func TestSessionEmptyTurnDiscarded(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "", // transcriber hears nothing
	}
	llm := &fakeLLM{}

	cfg := testConfig()
	cfg.Tuning.MaxEndpointingDelay = 60 * time.Millisecond
	s := NewSession(cfg, llm, &fakeSTT{stream: sttStream}, &fakeTTS{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var discarded bool
	var mu sync.Mutex
	go func() {
		for ev := range s.Events() {
			if _, ok := ev.(*EmptyTurnDiscardedEvent); ok {
				mu.Lock()
				discarded = true
				mu.Unlock()
			}
		}
	}()

	feedSpeech(s, 4, 4)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return discarded
	}, "expected empty turn to be discarded")
	eventually(t, func() bool { return s.State() == StateIdle }, "expected return to idle")

	if n := s.Chat().Len(); n != 0 {
		t.Errorf("chat turns = %d, want 0", n)
	}
}

func TestSessionEndCallTool(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "Not interested, bye.",
	}
	llm := &fakeLLM{events: []types.StreamEvent{
		types.TextDeltaEvent{Text: "Alright, thank you for your time."},
		types.ToolCallEvent{ID: "t1", Name: EndCallToolName, Arguments: "{}"},
		types.CompletionEvent{StopReason: "tool_use"},
	}}

	s := NewSession(testConfig(), llm, &fakeSTT{stream: sttStream}, &fakeTTS{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainEvents(s)

	feedSpeech(s, 4, 4)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after end_call tool")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestSessionFalseInterruptionRecovery(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "What documents do I need?",
	}
	llm := &fakeLLM{events: []types.StreamEvent{
		types.TextDeltaEvent{Text: "You need your PAN card and salary slips."},
		types.CompletionEvent{StopReason: "end_turn"},
	}}

	cfg := testConfig()
	cfg.Tuning.MinInterruptionWords = 0 // energy alone interrupts
	s := NewSession(cfg, llm, &fakeSTT{stream: sttStream}, &fakeTTS{chunks: 50, chunkDelay: 20 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var recovered bool
	var mu sync.Mutex
	go func() {
		for ev := range s.Events() {
			if _, ok := ev.(*FalseInterruptionEvent); ok {
				mu.Lock()
				recovered = true
				mu.Unlock()
			}
		}
	}()

	feedSpeech(s, 4, 4)
	eventually(t, func() bool { return s.State() == StateAgentSpeaking }, "expected agent speaking")

	// A cough: enough energy to trigger, but nothing ever transcribed.
	for i := 0; i < 5; i++ {
		s.SendAudio(pcmFrame(16000))
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return recovered
	}, "expected false interruption recovery signal")
	eventually(t, func() bool { return s.State() == StateIdle }, "expected return to idle")
}

// pacedLLM delivers stream events with per-event delays, so a completion
// can arrive well after the deltas.
type pacedStream struct {
	events []types.StreamEvent
	delays []time.Duration
	i      int
}

func (s *pacedStream) Next() (types.StreamEvent, error) {
	if s.i >= len(s.events) {
		return nil, io.EOF
	}
	if d := s.delays[s.i]; d > 0 {
		time.Sleep(d)
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *pacedStream) Close() error { return nil }

type pacedLLM struct {
	events []types.StreamEvent
	delays []time.Duration
}

func (f *pacedLLM) CreateMessage(_ context.Context, _ *types.MessageRequest) (*types.MessageResponse, error) {
	return &types.MessageResponse{Text: "YES"}, nil
}

func (f *pacedLLM) StreamMessage(_ context.Context, _ *types.MessageRequest) (core.EventStream, error) {
	evs := make([]types.StreamEvent, len(f.events))
	copy(evs, f.events)
	ds := make([]time.Duration, len(f.delays))
	copy(ds, f.delays)
	return &pacedStream{events: evs, delays: ds}, nil
}

// brokenTTS dies on the first chunk: the audio channel closes with an error
// before any audio is produced.
type brokenTTS struct{}

func (brokenTTS) Name() string { return "faketts" }

func (brokenTTS) NewStreamingContext(_ context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error) {
	sc := tts.NewStreamingContext(opts.SampleRate)
	var once sync.Once
	sc.SendFunc = func(string, bool) error {
		once.Do(func() {
			sc.SetError(errors.New("synthesis socket closed"))
			sc.FinishAudio()
		})
		return nil
	}
	return sc, nil
}

func TestSessionTTSStreamFailureEndsTurn(t *testing.T) {
	sttStream := &fakeSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "Is this offer real?",
	}
	// First delta flushes a chunk into TTS immediately; the completion
	// lands long after the synthesis stream has already died.
	llm := &pacedLLM{
		events: []types.StreamEvent{
			types.TextDeltaEvent{Text: "Yes, absolutely."},
			types.CompletionEvent{StopReason: "end_turn", Usage: types.Usage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24}},
		},
		delays: []time.Duration{0, 150 * time.Millisecond},
	}

	s := NewSession(testConfig(), llm, &fakeSTT{stream: sttStream}, brokenTTS{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var mu sync.Mutex
	var ttsErr bool
	go func() {
		for ev := range s.Events() {
			if e, ok := ev.(*ErrorEvent); ok && e.Code == "tts_error" {
				mu.Lock()
				ttsErr = true
				mu.Unlock()
			}
		}
	}()

	feedSpeech(s, 4, 4)

	eventually(t, func() bool { return s.State() == StateIdle }, "expected return to idle after tts stream failure")
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ttsErr
	}, "expected a tts_error event")

	// The reply was never played out, so it stays out of the history.
	turns := s.Chat().Turns()
	if len(turns) != 1 || turns[0].Role != types.RoleUser {
		t.Fatalf("turns = %+v, want only the user turn", turns)
	}
}
