// Package live runs the real-time agent session: a turn-taking state machine
// connecting VAD, STT, the turn detector, the LLM, and TTS.
package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/metrics"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/stt"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/textfilter"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/tts"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/turn"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
)

// EndCallToolName is the tool whose invocation ends the call after the
// current reply is played out.
const EndCallToolName = "end_call"

// LLMClient is the interface for making LLM requests.
type LLMClient interface {
	CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error)
	StreamMessage(ctx context.Context, req *types.MessageRequest) (core.EventStream, error)
}

// Session is the orchestrator for one live voice conversation.
// All turn bookkeeping runs on a single loop goroutine; events for one
// speech id are therefore processed strictly in arrival order.
type Session struct {
	config      SessionConfig
	audioConfig vad.AudioConfig

	llm         LLMClient
	sttProvider stt.Provider
	ttsProvider tts.Provider

	detector     *vad.Detector
	turnDetector turn.Detector
	monitor      *interruptionMonitor
	ledger       *metrics.Ledger
	logger       *slog.Logger

	mu        sync.RWMutex
	state     SessionState
	sessionID string
	chat      *types.ChatContext

	sttStream stt.Stream
	sttMu     sync.Mutex

	events chan Event
	audio  chan []byte
	done   chan struct{}
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is owned by the loop goroutine.
	speechID      string
	finals        []string
	interim       string
	speechEndedAt time.Time
	lastFinalAt   time.Time
	sttAudioDur   float64
	agentTurns    int

	minEndC  <-chan time.Time
	maxEndC  <-chan time.Time
	falseC   <-chan time.Time
	minEndT  *time.Timer
	maxEndT  *time.Timer
	falseT   *time.Timer
	checkC   chan turnCheckResult
	checkGen int

	gen      *generation
	discards []*generation

	ttsCtx     *tts.StreamingContext
	ttsC       <-chan []byte
	ttsDrained bool
	filter     *textfilter.Filter
	chunks     *ChunkBuffer
	spoken     strings.Builder
	endedFor   string // close reason set by the loop
}

type turnCheckResult struct {
	gen    int
	result turn.Result
}

// generation is one in-flight LLM request.
type generation struct {
	speechID string
	input    string
	cancel   context.CancelFunc
	events   chan genEvent
	adopted  bool
	started  time.Time

	text     strings.Builder
	endCall  bool
	toolID   string
	toolArgs string
	usage    types.Usage
	ttft     time.Duration
	duration time.Duration
	done     bool
}

type genEvent struct {
	text string
	tool *types.ToolCallEvent
	fin  *genFinished
}

type genFinished struct {
	usage    types.Usage
	ttft     time.Duration
	duration time.Duration
	err      error
}

// Option configures a Session.
type Option func(*Session)

// WithLedger attaches a metrics ledger; the session stamps every STT, EOU,
// LLM and TTS measurement with the turn's speech id.
func WithLedger(l *metrics.Ledger) Option {
	return func(s *Session) { s.ledger = l }
}

// WithTurnDetector overrides the default heuristic end-of-turn detector.
func WithTurnDetector(d turn.Detector) Option {
	return func(s *Session) { s.turnDetector = d }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a live session wired to the given providers.
func NewSession(config SessionConfig, llm LLMClient, sttProvider stt.Provider, ttsProvider tts.Provider, opts ...Option) *Session {
	audioConfig := vad.AudioConfig{
		SampleRate:    config.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}
	if audioConfig.SampleRate == 0 {
		audioConfig.SampleRate = 16000
	}

	s := &Session{
		config:      config,
		audioConfig: audioConfig,
		llm:         llm,
		sttProvider: sttProvider,
		ttsProvider: ttsProvider,
		state:       StateConfiguring,
		sessionID:   uuid.NewString(),
		chat:        types.NewChatContext(config.System),
		events:      make(chan Event, 256),
		audio:       make(chan []byte, 100),
		done:        make(chan struct{}),
		checkC:      make(chan turnCheckResult, 4),
		logger:      slog.Default(),
	}
	for _, m := range config.Messages {
		switch m.Role {
		case types.RoleUser:
			s.chat.AppendUser(m.Text)
		case types.RoleAssistant:
			s.chat.AppendAssistant(m.Text, m.Interrupted)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.turnDetector == nil {
		s.turnDetector = turn.NewHeuristic(turn.DefaultHeuristicConfig())
	}
	return s
}

// SessionID returns the session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Events returns the channel of session events.
func (s *Session) Events() <-chan Event { return s.events }

// Chat returns the conversation context.
func (s *Session) Chat() *types.ChatContext { return s.chat }

// Done returns a channel closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins the session: opens the STT stream and starts the loop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConfiguring {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.detector = vad.NewDetector(s.config.VAD, s.audioConfig)
	s.monitor = newInterruptionMonitor(
		s.audioConfig,
		s.config.VAD.ActivationThreshold,
		s.config.Tuning.MinInterruptionDuration,
		s.config.Tuning.MinInterruptionWords,
	)

	if err := s.openSTT(); err != nil {
		return fmt.Errorf("start stt: %w", err)
	}

	go s.loop()

	s.setState(StateIdle)
	s.emit(&SessionCreatedEvent{SessionID: s.sessionID, SampleRate: s.audioConfig.SampleRate})
	return nil
}

func (s *Session) openSTT() error {
	opts := stt.StreamOptions{
		Model:      s.config.STTModel,
		Language:   s.config.Language,
		SampleRate: s.audioConfig.SampleRate,
	}
	stream, err := stt.Open(s.ctx, s.sttProvider, opts)
	if err != nil {
		return err
	}
	s.sttMu.Lock()
	s.sttStream = stream
	s.sttMu.Unlock()
	return nil
}

// SendAudio feeds one PCM frame into the session. Frames are dropped when
// the buffer is full rather than blocking the media path.
func (s *Session) SendAudio(frame []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	select {
	case s.audio <- frame:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		s.logger.Warn("audio buffer full, dropping frame", "session_id", s.sessionID)
		return nil
	}
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.sttMu.Lock()
	if s.sttStream != nil {
		s.sttStream.Close()
	}
	s.sttMu.Unlock()
	if s.ledger != nil {
		s.ledger.Shutdown()
	}
	close(s.done)
	s.setState(StateClosed)
	reason := s.endedFor
	if reason == "" {
		reason = "closed"
	}
	s.emit(&SessionClosedEvent{Reason: reason})
	close(s.events)
	return nil
}

// loop is the single goroutine that owns all turn state.
func (s *Session) loop() {
	for {
		var transcripts <-chan stt.TranscriptDelta
		s.sttMu.Lock()
		if s.sttStream != nil {
			transcripts = s.sttStream.Transcripts()
		}
		s.sttMu.Unlock()

		var genC chan genEvent
		if s.gen != nil {
			genC = s.gen.events
		}

		select {
		case <-s.ctx.Done():
			s.abortGeneration()
			return
		case <-s.done:
			return
		case frame := <-s.audio:
			s.onFrame(frame)
		case delta, ok := <-transcripts:
			if !ok {
				s.onSTTClosed()
				continue
			}
			s.onTranscript(delta)
		case <-s.minEndC:
			s.minEndC = nil
			s.onEndpointingDelay()
		case <-s.maxEndC:
			s.maxEndC = nil
			if s.State() == StateAwaitingEOU {
				s.commitTurn(true)
			}
		case res := <-s.checkC:
			if res.gen == s.checkGen && s.State() == StateAwaitingEOU && res.result.EndOfTurn {
				s.commitTurn(false)
			}
		case <-s.falseC:
			s.falseC = nil
			s.onFalseInterruption()
		case ev := <-genC:
			s.onGenEvent(s.gen, ev)
		case data, ok := <-s.ttsC:
			s.onTTSAudio(data, ok)
		}

		s.drainDiscards()
	}
}

// drainDiscards collects results from cancelled generations so their
// goroutines can exit, crediting any reported usage to the session totals.
func (s *Session) drainDiscards() {
	for i := 0; i < len(s.discards); i++ {
		g := s.discards[i]
		select {
		case ev := <-g.events:
			if ev.fin != nil {
				if s.ledger != nil && !ev.fin.usage.IsEmpty() {
					s.ledger.AddUsage(ev.fin.usage)
				}
				s.discards = append(s.discards[:i], s.discards[i+1:]...)
				i--
			}
		default:
		}
	}
}

// onFrame routes one PCM frame by state.
func (s *Session) onFrame(frame []byte) {
	state := s.State()

	switch state {
	case StateIdle:
		s.sttSend(frame)
		if _, d := s.detector.Push(frame); d == vad.DecisionSpeechStart {
			s.setState(StateUserSpeaking)
			s.emit(&UserStartedSpeakingEvent{})
		}

	case StateUserSpeaking:
		s.sttSend(frame)
		_, d := s.detector.Push(frame)
		switch d {
		case vad.DecisionSpeechEnd:
			s.speechEndedAt = time.Now()
			s.emit(&UserStoppedSpeakingEvent{DurationMs: int(s.detector.SpeechDuration().Milliseconds())})
			wait := s.config.Tuning.MinEndpointingDelay
			if s.config.Tuning.MinConsecutiveSpeechDelay > wait {
				wait = s.config.Tuning.MinConsecutiveSpeechDelay
			}
			s.minEndT = time.NewTimer(wait)
			s.minEndC = s.minEndT.C
		case vad.DecisionSpeechStart:
			// User resumed before the endpointing window opened.
			s.stopTimer(&s.minEndT, &s.minEndC)
		}

	case StateAwaitingEOU:
		s.sttSend(frame)
		if _, d := s.detector.Push(frame); d == vad.DecisionSpeechStart {
			// Resumed speech continues the same turn.
			s.stopTimer(&s.maxEndT, &s.maxEndC)
			s.checkGen++ // invalidate pending turn checks
			s.discardPreemptive()
			s.setState(StateUserSpeaking)
		}

	case StateGeneratingReply, StateAgentSpeaking:
		if !s.config.Tuning.AllowInterruptions {
			if !s.config.Tuning.DiscardAudioIfUninterruptible {
				s.sttSend(frame)
			}
			return
		}
		s.sttSend(frame)
		s.monitor.OnFrame(frame)
		if s.monitor.Confirmed() {
			s.interrupt()
		}
	}
}

// onTranscript routes one transcript delta by state.
func (s *Session) onTranscript(delta stt.TranscriptDelta) {
	if delta.AudioDuration > s.sttAudioDur {
		s.sttAudioDur = delta.AudioDuration
	}
	s.emit(&TranscriptDeltaEvent{SpeechID: s.speechID, Delta: delta.Text, IsFinal: delta.IsFinal})

	state := s.State()
	switch state {
	case StateIdle, StateUserSpeaking, StateAwaitingEOU:
		if s.falseC != nil && delta.IsFinal && strings.TrimSpace(delta.Text) != "" {
			// Real speech followed the interruption after all.
			s.stopTimer(&s.falseT, &s.falseC)
		}
		if delta.IsFinal {
			if t := strings.TrimSpace(delta.Text); t != "" {
				s.finals = append(s.finals, t)
				s.lastFinalAt = time.Now()
			}
			s.interim = ""
			if state == StateAwaitingEOU {
				s.startTurnCheck()
			}
		} else {
			s.interim = delta.Text
		}

	case StateGeneratingReply, StateAgentSpeaking:
		if delta.IsFinal {
			s.monitor.OnTranscript(strings.TrimSpace(delta.Text))
			if s.config.Tuning.AllowInterruptions && s.monitor.Confirmed() {
				s.interrupt()
			}
		}
	}
}

// onSTTClosed restarts the transcription stream, dropping the turn's events
// if the transport cannot be recovered.
func (s *Session) onSTTClosed() {
	s.sttMu.Lock()
	s.sttStream = nil
	s.sttMu.Unlock()
	if s.closed.Load() || s.ctx.Err() != nil {
		return
	}
	s.logger.Warn("stt stream closed, reopening", "session_id", s.sessionID)
	if err := s.openSTT(); err != nil {
		s.logger.Error("stt reopen failed", "session_id", s.sessionID, "error", err)
		s.emit(&ErrorEvent{Code: "stt_unavailable", Message: err.Error()})
	}
}

// onEndpointingDelay fires when silence has persisted for the minimum
// endpointing delay: the turn gets its speech id and detection begins.
func (s *Session) onEndpointingDelay() {
	if s.State() != StateUserSpeaking || s.detector.Speaking() {
		return
	}
	s.setState(StateAwaitingEOU)
	if s.speechID == "" {
		s.speechID = uuid.NewString()
	}
	s.emit(&EndOfUtteranceEvent{SpeechID: s.speechID, Transcript: s.transcript()})

	s.sttMu.Lock()
	if s.sttStream != nil {
		if err := s.sttStream.Finalize(); err != nil {
			s.logger.Warn("stt finalize failed", "error", err)
		}
	}
	s.sttMu.Unlock()

	elapsed := time.Since(s.speechEndedAt)
	remain := s.config.Tuning.MaxEndpointingDelay - elapsed
	if remain < 0 {
		remain = 0
	}
	s.maxEndT = time.NewTimer(remain)
	s.maxEndC = s.maxEndT.C

	s.startTurnCheck()

	if s.config.Tuning.PreemptiveGeneration && s.gen == nil {
		if input := s.transcript(); input != "" {
			s.gen = s.startGeneration(input)
		}
	}
}

// startTurnCheck runs the end-of-turn detector off-loop.
func (s *Session) startTurnCheck() {
	text := s.transcript()
	if text == "" {
		return
	}
	s.checkGen++
	gen := s.checkGen
	silence := time.Since(s.speechEndedAt)
	go func() {
		res, err := s.turnDetector.OnFinalText(s.ctx, text, silence)
		if err != nil {
			s.logger.Warn("turn detector failed", "error", err)
			return
		}
		select {
		case s.checkC <- turnCheckResult{gen: gen, result: res}:
		case <-s.done:
		}
	}()
}

// transcript joins the finals collected for the current turn, falling back
// to the last interim when no final ever arrived.
func (s *Session) transcript() string {
	if len(s.finals) > 0 {
		return strings.Join(s.finals, " ")
	}
	return strings.TrimSpace(s.interim)
}

// commitTurn finalizes the user turn and starts (or adopts) generation.
func (s *Session) commitTurn(forced bool) {
	s.stopTimer(&s.minEndT, &s.minEndC)
	s.stopTimer(&s.maxEndT, &s.maxEndC)
	s.checkGen++

	transcript := s.transcript()
	if transcript == "" {
		// Nothing was actually said; drop the turn entirely.
		s.emit(&EmptyTurnDiscardedEvent{SpeechID: s.speechID})
		s.discardPreemptive()
		s.resetTurn()
		s.setState(StateIdle)
		return
	}

	committedAt := time.Now()
	s.chat.AppendUser(transcript)
	s.emit(&UserTurnCommittedEvent{SpeechID: s.speechID, Transcript: transcript, Forced: forced})
	s.setState(StateGeneratingReply)

	// Adopt the pre-emptive request only when its input is the final
	// transcript; anything else is discarded and regenerated.
	if s.gen != nil && s.gen.input != transcript {
		s.discardPreemptive()
	}
	if s.gen == nil {
		s.gen = s.startGeneration(transcript)
	}
	s.adoptGeneration()

	if s.ledger != nil {
		s.ledger.OnSTT(metrics.STTEvent{
			SpeechID:      s.speechID,
			AudioDuration: s.sttAudioDur,
			Streamed:      true,
		})
		ev := metrics.EOUEvent{
			SpeechID:                 s.speechID,
			EOUDelay:                 committedAt.Sub(s.speechEndedAt).Seconds(),
			OnUserTurnCompletedDelay: time.Since(committedAt).Seconds(),
			LastSpeakingTime:         s.speechEndedAt,
		}
		if !s.lastFinalAt.IsZero() && s.lastFinalAt.After(s.speechEndedAt) {
			ev.TranscriptionDelay = s.lastFinalAt.Sub(s.speechEndedAt).Seconds()
		}
		s.ledger.OnEOU(ev)
		s.ledger.SetTranscript(s.speechID, transcript)
	}
}

// adoptGeneration marks the current generation as the one whose tokens are
// spoken, and replays any text it produced before adoption.
func (s *Session) adoptGeneration() {
	g := s.gen
	if g == nil || g.adopted {
		return
	}
	g.adopted = true
	g.speechID = s.speechID
	s.filter = textfilter.New(textfilter.Config{
		Pronunciations: s.config.Pronunciations,
		Language:       s.config.Language,
	})
	s.chunks = NewChunkBuffer(0)
	s.spoken.Reset()
	if buffered := g.text.String(); buffered != "" {
		s.speakDelta(g, buffered)
	}
	if g.done {
		// The request finished while still staged; record and close it now.
		if s.ledger != nil {
			s.ledger.OnLLM(metrics.LLMEvent{
				SpeechID: g.speechID,
				TTFT:     g.ttft.Seconds(),
				Duration: g.duration.Seconds(),
				Usage:    g.usage,
			})
		}
		s.emit(&ResponseDoneEvent{SpeechID: g.speechID, Text: g.text.String()})
		s.finishSpeech(g)
	}
}

// discardPreemptive cancels the un-adopted generation, keeping its events
// channel alive until the goroutine reports final usage.
func (s *Session) discardPreemptive() {
	if s.gen == nil || s.gen.adopted {
		return
	}
	s.gen.cancel()
	s.discards = append(s.discards, s.gen)
	s.gen = nil
}

// startGeneration launches the LLM request goroutine.
func (s *Session) startGeneration(input string) *generation {
	gctx, cancel := context.WithCancel(s.ctx)
	g := &generation{
		input:   input,
		cancel:  cancel,
		events:  make(chan genEvent, 64),
		started: time.Now(),
	}

	msgs := s.chat.Turns()
	// A pre-emptive request carries the staged transcript itself.
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != types.RoleUser || msgs[len(msgs)-1].Text != input {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Text: input})
	}

	req := &types.MessageRequest{
		Model:       s.config.Model,
		System:      s.chat.System(),
		Messages:    msgs,
		Tools:       s.config.Tools,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	go s.runGeneration(gctx, g, req)
	return g
}

// runGeneration streams the LLM response into the generation's event channel.
func (s *Session) runGeneration(ctx context.Context, g *generation, req *types.MessageRequest) {
	send := func(ev genEvent) bool {
		select {
		case g.events <- ev:
			return true
		case <-s.done:
			return false
		}
	}

	stream, err := s.llm.StreamMessage(ctx, req)
	if err != nil {
		send(genEvent{fin: &genFinished{err: err, duration: time.Since(g.started)}})
		return
	}
	defer stream.Close()

	var (
		usage types.Usage
		ttft  time.Duration
	)
	for {
		event, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			send(genEvent{fin: &genFinished{usage: usage, ttft: ttft, duration: time.Since(g.started), err: err}})
			return
		}
		switch e := event.(type) {
		case types.TextDeltaEvent:
			if ttft == 0 {
				ttft = time.Since(g.started)
			}
			if !send(genEvent{text: e.Text}) {
				return
			}
		case types.ToolCallEvent:
			tool := e
			if !send(genEvent{tool: &tool}) {
				return
			}
		case types.CompletionEvent:
			usage = e.Usage
		}
	}
	send(genEvent{fin: &genFinished{usage: usage, ttft: ttft, duration: time.Since(g.started)}})
}

// onGenEvent handles output from the adopted (or staged) generation.
func (s *Session) onGenEvent(g *generation, ev genEvent) {
	switch {
	case ev.text != "":
		g.text.WriteString(ev.text)
		if g.adopted {
			s.emit(&ResponseTextDeltaEvent{SpeechID: g.speechID, Delta: ev.text})
			s.speakDelta(g, ev.text)
		}

	case ev.tool != nil:
		if ev.tool.Name == EndCallToolName {
			g.endCall = true
		}
		g.toolID = ev.tool.ID
		g.toolArgs = ev.tool.Arguments
		s.emit(&ToolUseEvent{ID: ev.tool.ID, Name: ev.tool.Name, Arguments: ev.tool.Arguments})

	case ev.fin != nil:
		g.done = true
		g.usage = ev.fin.usage
		g.ttft = ev.fin.ttft
		g.duration = ev.fin.duration
		if ev.fin.err != nil && s.ctx.Err() == nil && ev.fin.err != context.Canceled {
			s.logger.Error("llm stream failed", "session_id", s.sessionID, "error", ev.fin.err)
			s.emit(&ErrorEvent{Code: "llm_error", Message: ev.fin.err.Error()})
		}
		if g.adopted {
			if s.ledger != nil {
				s.ledger.OnLLM(metrics.LLMEvent{
					SpeechID: g.speechID,
					TTFT:     ev.fin.ttft.Seconds(),
					Duration: ev.fin.duration.Seconds(),
					Usage:    ev.fin.usage,
				})
			}
			s.emit(&ResponseDoneEvent{SpeechID: g.speechID, Text: g.text.String()})
			s.finishSpeech(g)
		}
	}
}

// speakDelta pushes LLM text through the spoken-text filter and chunker into
// TTS.
func (s *Session) speakDelta(g *generation, text string) {
	out := s.filter.Write(text)
	if out == "" {
		return
	}
	s.spoken.WriteString(out)
	if chunk := s.chunks.Add(out); chunk != "" {
		s.ttsSend(g, chunk, false)
	}
}

// finishSpeech flushes the remaining text to TTS after the LLM completes.
// The turn ends when the TTS audio channel drains.
func (s *Session) finishSpeech(g *generation) {
	rest := s.filter.Flush()
	if rest != "" {
		s.spoken.WriteString(rest)
		if chunk := s.chunks.Add(rest); chunk != "" {
			s.ttsSend(g, chunk, false)
		}
	}
	if s.ttsCtx != nil && s.ttsDrained {
		// The audio channel closed before the LLM finished: there is
		// nothing left to drain, close the turn now.
		s.completeTurn(g)
		return
	}
	final := s.chunks.Flush()
	if final != "" || s.ttsCtx != nil {
		s.ttsSend(g, final, true)
		return
	}
	// Nothing was ever spoken: close the turn without an audio leg.
	s.completeTurn(g)
}

// ttsSend lazily opens the synthesis context and sends one chunk.
func (s *Session) ttsSend(g *generation, text string, isFinal bool) {
	if s.ttsCtx == nil {
		opts := tts.StreamingContextOptions{
			Voice:      s.config.Voice,
			Speaker:    s.config.Voice,
			Language:   s.config.Language,
			Format:     "pcm",
			SampleRate: s.audioConfig.SampleRate,
		}
		ctx, err := s.ttsProvider.NewStreamingContext(s.ctx, opts)
		if err != nil {
			s.logger.Error("tts context failed", "session_id", s.sessionID, "error", err)
			s.emit(&ErrorEvent{Code: "tts_error", Message: err.Error()})
			s.completeTurn(g)
			return
		}
		s.ttsCtx = ctx
		s.ttsC = ctx.Audio()
		s.ttsDrained = false
	}
	if err := s.ttsCtx.SendText(text, isFinal); err != nil {
		s.logger.Warn("tts send failed", "error", err)
	}
}

// onTTSAudio relays synthesized audio and closes the turn on drain.
func (s *Session) onTTSAudio(data []byte, ok bool) {
	if !ok {
		// Stream drained. With the generation finished this ends the agent
		// turn; a drain mid-generation means the stream died, and the turn
		// closes as soon as the LLM completes.
		s.ttsC = nil
		s.ttsDrained = true
		if s.ttsCtx != nil {
			if err := s.ttsCtx.Err(); err != nil {
				s.logger.Error("tts stream failed", "session_id", s.sessionID, "error", err)
				s.emit(&ErrorEvent{Code: "tts_error", Message: err.Error()})
			}
		}
		g := s.gen
		if g != nil && g.adopted && g.done {
			s.completeTurn(g)
		}
		return
	}
	if s.State() == StateGeneratingReply {
		s.setState(StateAgentSpeaking)
		s.agentTurns++
		s.emit(&AgentStartedSpeakingEvent{SpeechID: s.speechID})
	}
	s.emit(&AudioDeltaEvent{Data: data, Format: "pcm_s16le"})
}

// completeTurn records the assistant reply and returns to Idle, or ends the
// call when the reply invoked the end-call tool.
func (s *Session) completeTurn(g *generation) {
	text := g.text.String()
	if s.config.Tuning.UseTTSAlignedTranscript && s.spoken.Len() > 0 {
		text = s.spoken.String()
	}
	if s.ttsCtx != nil && s.ttsCtx.Err() != nil {
		// The reply was never played out; keep it out of the history.
		text = ""
	}
	if text != "" {
		s.chat.AppendAssistant(text, false)
	}
	if s.ledger != nil {
		s.ledger.SetAssistantText(g.speechID, text, false)
		if s.ttsCtx != nil {
			m := s.ttsCtx.Metrics()
			s.ledger.OnTTS(metrics.TTSEvent{
				SpeechID:      g.speechID,
				TTFB:          m.TTFB.Seconds(),
				AudioDuration: m.AudioDuration,
				Characters:    m.Characters,
				Timestamp:     time.Now(),
			})
		}
	}
	if s.ttsCtx != nil {
		if s.State() == StateAgentSpeaking {
			s.emit(&AgentStoppedSpeakingEvent{SpeechID: g.speechID})
		}
		s.ttsCtx.Close()
		s.ttsCtx = nil
		s.ttsC = nil
	}

	endCall := g.endCall
	s.gen = nil
	s.resetTurn()

	if endCall {
		s.endedFor = "end_call"
		s.setState(StateClosed)
		go s.Close()
		return
	}
	s.setState(StateIdle)
}

// interrupt executes a confirmed barge-in.
func (s *Session) interrupt() {
	g := s.gen
	if g == nil {
		return
	}
	partial := g.text.String()
	if s.config.Tuning.UseTTSAlignedTranscript && s.spoken.Len() > 0 {
		partial = s.spoken.String()
	}

	g.cancel()
	if !g.done {
		s.discards = append(s.discards, g)
	}
	s.gen = nil

	if s.ledger != nil {
		// A finished generation already recorded itself at its fin event.
		if !g.done && g.ttft > 0 {
			s.ledger.OnLLM(metrics.LLMEvent{
				SpeechID: g.speechID,
				TTFT:     g.ttft.Seconds(),
				Duration: time.Since(g.started).Seconds(),
				Usage:    g.usage,
			})
		}
		if s.ttsCtx != nil {
			m := s.ttsCtx.Metrics()
			s.ledger.OnTTS(metrics.TTSEvent{
				SpeechID:      g.speechID,
				TTFB:          m.TTFB.Seconds(),
				AudioDuration: m.AudioDuration,
				Characters:    m.Characters,
				Timestamp:     time.Now(),
			})
		}
		s.ledger.SetAssistantText(g.speechID, partial, true)
	}
	if partial != "" {
		s.chat.AppendAssistant(partial, true)
	}

	wasSpeaking := s.State() == StateAgentSpeaking
	if s.ttsCtx != nil {
		s.ttsCtx.Close()
		s.ttsCtx = nil
		s.ttsC = nil
	}

	s.emit(&ResponseInterruptedEvent{SpeechID: g.speechID, PartialText: partial})
	if wasSpeaking {
		s.emit(&AgentStoppedSpeakingEvent{SpeechID: g.speechID, Interrupted: true})
	}
	s.emit(&AudioFlushEvent{})

	// The interrupting speech seeds the next turn.
	captured := s.monitor.Transcript()
	s.resetTurn()
	if captured != "" {
		s.finals = append(s.finals, captured)
		s.lastFinalAt = time.Now()
	}
	s.setState(StateUserSpeaking)
	s.emit(&UserStartedSpeakingEvent{})

	if captured == "" {
		s.falseT = time.NewTimer(s.config.Tuning.AgentFalseInterruptionTimeout)
		s.falseC = s.falseT.C
	}
}

// onFalseInterruption fires when an interruption was taken but no speech was
// ever transcribed.
func (s *Session) onFalseInterruption() {
	if s.State() != StateUserSpeaking || len(s.finals) > 0 {
		return
	}
	s.emit(&FalseInterruptionEvent{})
	s.resetTurn()
	s.detector.Reset()
	s.setState(StateIdle)
}

// abortGeneration cancels any in-flight request on shutdown.
func (s *Session) abortGeneration() {
	if s.gen != nil {
		s.gen.cancel()
		s.gen = nil
	}
	if s.ttsCtx != nil {
		s.ttsCtx.Close()
		s.ttsCtx = nil
	}
}

// resetTurn clears per-turn accumulation.
func (s *Session) resetTurn() {
	s.stopTimer(&s.minEndT, &s.minEndC)
	s.stopTimer(&s.maxEndT, &s.maxEndC)
	s.stopTimer(&s.falseT, &s.falseC)
	s.speechID = ""
	s.finals = nil
	s.interim = ""
	s.sttAudioDur = 0
	s.lastFinalAt = time.Time{}
	s.spoken.Reset()
	s.filter = nil
	s.chunks = nil
	s.detector.Reset()
	s.monitor.Reset()
}

func (s *Session) stopTimer(t **time.Timer, c *<-chan time.Time) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
	*c = nil
}

func (s *Session) sttSend(frame []byte) {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()
	if s.sttStream != nil {
		if err := s.sttStream.SendAudio(frame); err != nil {
			s.logger.Warn("stt send failed", "error", err)
		}
	}
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.emit(&StateChangedEvent{From: prev, To: next})
	}
}

func (s *Session) emit(event Event) {
	// The loop may still be emitting while Close tears the channel down.
	defer func() { _ = recover() }()
	select {
	case s.events <- event:
	case <-s.done:
	default:
	}
}
