package campaign

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/live"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/stt"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/tts"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
	"github.com/kalashk/voice-agent-sub000/pkg/summary"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

func pcmFrame(amplitude int16) []byte {
	const samples = 320
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

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

type scriptedLLM struct {
	events []types.StreamEvent
}

func (f *scriptedLLM) CreateMessage(context.Context, *types.MessageRequest) (*types.MessageResponse, error) {
	return &types.MessageResponse{Text: "YES"}, nil
}

func (f *scriptedLLM) StreamMessage(context.Context, *types.MessageRequest) (core.EventStream, error) {
	evs := make([]types.StreamEvent, len(f.events))
	copy(evs, f.events)
	return &scriptedStream{events: evs}, nil
}

type runnerSTTStream struct {
	mu          sync.Mutex
	transcripts chan stt.TranscriptDelta
	done        chan struct{}
	closed      bool
	finalText   string
}

func (f *runnerSTTStream) SendAudio([]byte) error { return nil }

func (f *runnerSTTStream) Transcripts() <-chan stt.TranscriptDelta { return f.transcripts }

func (f *runnerSTTStream) Finalize() error {
	select {
	case f.transcripts <- stt.TranscriptDelta{Text: f.finalText, IsFinal: true, AudioDuration: 1.0}:
	case <-f.done:
	}
	return nil
}

func (f *runnerSTTStream) Done() <-chan struct{} { return f.done }

func (f *runnerSTTStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

type runnerSTT struct {
	stream *runnerSTTStream
}

func (f *runnerSTT) Name() string { return "fakestt" }

func (f *runnerSTT) NewStream(context.Context, stt.StreamOptions) (stt.Stream, error) {
	return f.stream, nil
}

type runnerTTS struct{}

func (runnerTTS) Name() string { return "faketts" }

func (runnerTTS) NewStreamingContext(_ context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error) {
	sc := tts.NewStreamingContext(opts.SampleRate)
	var once sync.Once
	sc.SendFunc = func(_ string, isFinal bool) error {
		if !isFinal {
			return nil
		}
		once.Do(func() {
			go func() {
				sc.PushAudio(make([]byte, 640))
				sc.FinishAudio()
			}()
		})
		return nil
	}
	return sc, nil
}

// fakeTransport feeds scripted inbound frames and records outbound audio.
type fakeTransport struct {
	mu      sync.Mutex
	in      chan []byte
	written int
	flushed int
	closed  bool
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-f.in:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

func (f *fakeTransport) Write(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written += len(frame)
	return nil
}

func (f *fakeTransport) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeRecording struct {
	mu      sync.Mutex
	started bool
	watched bool
	stopped bool
}

func (f *fakeRecording) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeRecording) Watch(ctx context.Context) {
	f.mu.Lock()
	f.watched = true
	f.mu.Unlock()
	<-ctx.Done()
}

func (f *fakeRecording) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func runnerSessionConfig() live.SessionConfig {
	cfg := live.DefaultSessionConfig()
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

func testTables() *costs.Tables {
	return &costs.Tables{
		LLM: map[string]costs.LLMRate{"fakellm": {InputRate: 1e-6, OutputRate: 3e-6}},
		STT: map[string]costs.STTRate{"fakestt": {RatePerSecond: 1e-4}},
		TTS: map[string]costs.TTSRate{"faketts": {RatePerCharacter: 1e-5}},
	}
}

func summaryLLM() *fakeLLMSummary {
	return &fakeLLMSummary{response: `{
		"call_metadata": {},
		"customer_profile": {"name": "Ravi"},
		"vehicle_information": {},
		"financial_information": {"monthly_income_bracket": "Unknown"},
		"intent_and_qualification": {"interested_in_loan": "Maybe"},
		"summary_text": "Short exploratory call."
	}`}
}

type fakeLLMSummary struct {
	response string
}

func (f *fakeLLMSummary) CreateMessage(context.Context, *types.MessageRequest) (*types.MessageResponse, error) {
	return &types.MessageResponse{Text: f.response}, nil
}

func TestRunnerConductsCall(t *testing.T) {
	logDir := t.TempDir()
	transport := &fakeTransport{in: make(chan []byte, 64)}
	rec := &fakeRecording{}

	llm := &scriptedLLM{events: []types.StreamEvent{
		types.TextDeltaEvent{Text: "Hello, this is about your loan."},
		types.CompletionEvent{StopReason: "end_turn", Usage: types.Usage{PromptTokens: 100, CompletionTokens: 10, TotalTokens: 110}},
	}}
	sttStream := &runnerSTTStream{
		transcripts: make(chan stt.TranscriptDelta, 16),
		done:        make(chan struct{}),
		finalText:   "haan boliye",
	}

	r := NewRunner(llm, &runnerSTT{stream: sttStream}, runnerTTS{},
		costs.NewCalculator(testTables()),
		func(context.Context, string) (AudioTransport, error) { return transport, nil },
		testLogger(),
		RunnerConfig{
			Providers:      types.ProviderSelection{STT: "fakestt", LLM: "fakellm", TTS: "faketts"},
			Model:          "fakellm/fake-model",
			PromptTemplate: "You are calling {{customer_name}} from {{bank_name}}.",
			Session:        runnerSessionConfig(),
			LogDir:         logDir,
		},
		WithRecording(func(string, string) Recording { return rec }),
		WithSummarizer(summary.NewGenerator(summaryLLM(), testLogger(), summary.Config{Model: "fakellm/fake-model"})),
	)

	customer := types.CustomerProfile{CustomerName: "Ravi", PhoneNumber: "+919800000000", BankName: "Canara Bank"}
	participant := &telephony.Participant{CallSID: "CA1", RoomName: "room-run-1", Identity: "+919800000000"}

	go func() {
		for i := 0; i < 4; i++ {
			transport.in <- pcmFrame(16000)
			time.Sleep(2 * time.Millisecond)
		}
		for i := 0; i < 4; i++ {
			transport.in <- pcmFrame(0)
			time.Sleep(2 * time.Millisecond)
		}
		time.Sleep(400 * time.Millisecond)
		close(transport.in)
	}()

	result, err := r.Run(context.Background(), customer, participant)
	require.NoError(t, err)

	assert.True(t, result.Answered)
	assert.Equal(t, 1, result.Turns)
	assert.Greater(t, result.Cost.Total, 0.0)
	require.NotNil(t, result.Summary)

	var rec2 summary.Record
	require.NoError(t, json.Unmarshal(result.Summary, &rec2))
	assert.Equal(t, "room-run-1", rec2.CallMetadata.RoomName)

	assert.True(t, rec.started)
	assert.True(t, rec.stopped)
	rec.mu.Lock()
	watched := rec.watched
	rec.mu.Unlock()
	assert.True(t, watched, "presence watch should run while the call is live")

	transport.mu.Lock()
	written := transport.written
	transport.mu.Unlock()
	assert.Greater(t, written, 0)

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "faketts_fakestt_fakellm_session_")

	data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Contains(t, doc, "metadata")
	require.Contains(t, doc, "transcript")

	var transcript []map[string]any
	require.NoError(t, json.Unmarshal(doc["transcript"], &transcript))
	require.NotEmpty(t, transcript)
	assert.Equal(t, "user", transcript[0]["role"])
	assert.Equal(t, "haan boliye", transcript[0]["text"])
}
