package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/live"
	"github.com/kalashk/voice-agent-sub000/pkg/core/metrics"
	"github.com/kalashk/voice-agent-sub000/pkg/core/sessionlog"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/stt"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/tts"
	"github.com/kalashk/voice-agent-sub000/pkg/summary"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

// AudioTransport moves PCM frames between the room and the session.
type AudioTransport interface {
	// Read blocks for the next inbound frame. io.EOF means the remote
	// party hung up.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	// Flush discards any buffered outbound audio.
	Flush(ctx context.Context) error
	Close() error
}

// TransportFactory opens the media stream for an answered room.
type TransportFactory func(ctx context.Context, roomName string) (AudioTransport, error)

// Recording is the per-call recording lifecycle the runner drives. Watch
// blocks, polling room presence until the recording stops or ctx is done.
type Recording interface {
	Start(ctx context.Context) error
	Watch(ctx context.Context)
	Stop(ctx context.Context) error
}

// RecordingFactory builds a recording for an answered call, or nil when
// recording is disabled.
type RecordingFactory func(roomName, callSID string) Recording

// RunnerConfig tunes the per-call runner.
type RunnerConfig struct {
	Providers      types.ProviderSelection
	Model          string
	PromptTemplate string
	Session        live.SessionConfig
	LogDir         string
}

// Runner drives one answered call end to end: live session, session log,
// recording, costing, and the post-call summary.
type Runner struct {
	llm         live.LLMClient
	sttProvider stt.Provider
	ttsProvider tts.Provider
	calc        *costs.Calculator
	summarizer  *summary.Generator
	transport   TransportFactory
	recording   RecordingFactory
	logger      *slog.Logger
	config      RunnerConfig
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRecording enables call recording.
func WithRecording(f RecordingFactory) RunnerOption {
	return func(r *Runner) { r.recording = f }
}

// WithSummarizer enables post-call summary generation.
func WithSummarizer(g *summary.Generator) RunnerOption {
	return func(r *Runner) { r.summarizer = g }
}

// NewRunner wires a call runner.
func NewRunner(llm live.LLMClient, sttProvider stt.Provider, ttsProvider tts.Provider, calc *costs.Calculator, transport TransportFactory, logger *slog.Logger, config RunnerConfig, opts ...RunnerOption) *Runner {
	r := &Runner{
		llm:         llm,
		sttProvider: sttProvider,
		ttsProvider: ttsProvider,
		calc:        calc,
		transport:   transport,
		logger:      logger,
		config:      config,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run conducts the conversation for one answered call and returns once
// the session has closed and post-call work is done.
func (r *Runner) Run(ctx context.Context, customer types.CustomerProfile, participant *telephony.Participant) (CallResult, error) {
	result := CallResult{Customer: customer, RoomName: participant.RoomName, Answered: true}

	cfg := r.config.Session
	cfg.Model = r.config.Model
	cfg.System = renderPrompt(r.config.PromptTemplate, participant.RoomName, customer)
	if customer.Language != "" {
		cfg.Language = customer.Language
	}

	var writer *sessionlog.Writer
	ledger := metrics.NewLedger(r.logger, metrics.WithTurnSink(func(rec metrics.TurnRecord) {
		if writer != nil {
			writer.RecordTurn(rec)
		}
	}))

	sess := live.NewSession(cfg, r.llm, r.sttProvider, r.ttsProvider,
		live.WithLedger(ledger),
		live.WithLogger(r.logger.With("room", participant.RoomName)))
	writer = sessionlog.New(r.config.LogDir,
		r.config.Providers.TTS, r.config.Providers.STT, r.config.Providers.LLM,
		sess.SessionID(), r.logger)

	transport, err := r.transport(ctx, participant.RoomName)
	if err != nil {
		return result, fmt.Errorf("open media stream: %w", err)
	}
	defer transport.Close()

	if err := sess.Start(ctx); err != nil {
		return result, err
	}

	var rec Recording
	if r.recording != nil {
		rec = r.recording(participant.RoomName, participant.CallSID)
	}
	if rec != nil {
		if err := rec.Start(ctx); err != nil {
			r.logger.Warn("recording start failed", "room", participant.RoomName, "error", err)
			rec = nil
		}
	}
	if rec != nil {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go rec.Watch(watchCtx)
	}

	go r.pumpInbound(ctx, transport, sess)
	r.consumeEvents(ctx, sess, transport, writer)

	if rec != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := rec.Stop(stopCtx); err != nil {
			r.logger.Warn("recording stop failed", "room", participant.RoomName, "error", err)
		}
		cancel()
	}

	sessionSummary := ledger.Summarize()
	result.Turns = sessionSummary.Turns

	cost, err := r.calc.SessionCost(
		r.config.Providers.LLM, r.config.Providers.STT, r.config.Providers.TTS,
		sessionSummary.Usage,
		sessionSummary.STTAudioSeconds,
		costs.TTSUsage{
			Characters:   sessionSummary.TTSCharacters,
			AudioSeconds: sessionSummary.TTSAudioSeconds,
		})
	if err != nil {
		r.logger.Error("cost computation failed", "room", participant.RoomName, "error", err)
	}
	result.Cost = cost

	if r.summarizer != nil {
		record := r.generateSummary(customer, participant, sess, sessionSummary)
		result.Summary = record
	}

	if err := writer.Finalize(customer, sessionSummary, &cost); err != nil {
		r.logger.Warn("session log finalize failed", "room", participant.RoomName, "error", err)
	}
	return result, nil
}

func (r *Runner) pumpInbound(ctx context.Context, transport AudioTransport, sess *live.Session) {
	for {
		frame, err := transport.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				r.logger.Warn("media read failed", "error", err)
			}
			sess.Close()
			return
		}
		if err := sess.SendAudio(frame); err != nil {
			return
		}
	}
}

// consumeEvents owns the session event stream until it closes. Audio goes
// to the transport, transcripts to the session log.
func (r *Runner) consumeEvents(ctx context.Context, sess *live.Session, transport AudioTransport, writer *sessionlog.Writer) {
	pending := make(map[string]string)
	for ev := range sess.Events() {
		switch e := ev.(type) {
		case *live.AudioDeltaEvent:
			if err := transport.Write(ctx, e.Data); err != nil {
				r.logger.Warn("media write failed", "error", err)
				sess.Close()
			}
		case *live.AudioFlushEvent:
			if err := transport.Flush(ctx); err != nil {
				r.logger.Warn("media flush failed", "error", err)
			}
		case *live.UserTurnCommittedEvent:
			writer.AddUserTranscript(e.SpeechID, e.Transcript, true)
		case *live.ResponseDoneEvent:
			pending[e.SpeechID] = e.Text
		case *live.ResponseInterruptedEvent:
			delete(pending, e.SpeechID)
			if e.PartialText != "" {
				writer.AddAssistantTranscript(e.SpeechID, e.PartialText, true)
			}
		case *live.AgentStoppedSpeakingEvent:
			if text, ok := pending[e.SpeechID]; ok && !e.Interrupted {
				writer.AddAssistantTranscript(e.SpeechID, text, false)
				delete(pending, e.SpeechID)
			}
		case *live.ErrorEvent:
			r.logger.Warn("session error", "code", e.Code, "message", e.Message)
		}
	}
}

func (r *Runner) generateSummary(customer types.CustomerProfile, participant *telephony.Participant, sess *live.Session, sessionSummary metrics.Summary) json.RawMessage {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	meta := summary.CallMetadata{
		SessionID:    sess.SessionID(),
		RoomName:     participant.RoomName,
		CallDuration: fmt.Sprintf("%.1fs", sessionSummary.SessionLength),
		CallOutcome:  "completed",
	}
	record, err := r.summarizer.Generate(ctx, meta, customer, sess.Chat().Turns())
	if err != nil {
		r.logger.Error("summary generation failed", "room", participant.RoomName, "error", err)
		return nil
	}
	return record
}

func renderPrompt(template, roomName string, customer types.CustomerProfile) string {
	replacer := strings.NewReplacer(
		"{{customer_name}}", customer.CustomerName,
		"{{city}}", customer.City,
		"{{language}}", customer.Language,
		"{{bank_name}}", customer.BankName,
		"{{age}}", strconv.Itoa(customer.Age),
		"{{gender}}", customer.Gender,
		"{{room_name}}", roomName,
	)
	return replacer.Replace(template)
}
