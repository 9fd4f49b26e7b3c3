// Package metrics accumulates per-turn timings and per-session totals from
// pipeline events.
package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// DefaultWatchdog is how long after EOU an unfinished turn may linger before
// it is recorded as abandoned.
const DefaultWatchdog = 10 * time.Second

// STTEvent reports audio consumed by the transcriber for one turn.
type STTEvent struct {
	SpeechID      string
	AudioDuration float64 // seconds
	Streamed      bool
}

// EOUEvent reports end-of-utterance timings for one turn.
type EOUEvent struct {
	SpeechID                 string
	EOUDelay                 float64 // seconds from last speech to confirmed EOU
	TranscriptionDelay       float64
	OnUserTurnCompletedDelay float64
	LastSpeakingTime         time.Time
}

// LLMEvent reports generation timings and token usage for one turn.
type LLMEvent struct {
	SpeechID string
	TTFT     float64 // seconds to first token
	Duration float64 // seconds for the whole stream
	Usage    types.Usage
}

// TTSEvent reports synthesis timings for one turn.
type TTSEvent struct {
	SpeechID      string
	TTFB          float64 // seconds to first audio byte
	AudioDuration float64
	Characters    int
	Timestamp     time.Time
}

// TurnRecord is one completed (or abandoned) conversational turn.
type TurnRecord struct {
	SpeechID                 string    `json:"speech_id"`
	UserTranscript           string    `json:"user_transcript,omitempty"`
	AssistantText            string    `json:"assistant_response_text,omitempty"`
	Interrupted              bool      `json:"interrupted"`
	Abandoned                bool      `json:"abandoned,omitempty"`
	STTSeconds               float64   `json:"stt_duration"`
	STTStreamed              bool      `json:"stt_streamed"`
	EOUDelay                 float64   `json:"eou_delay"`
	TranscriptionDelay       float64   `json:"transcription_delay"`
	OnUserTurnCompletedDelay float64   `json:"on_user_turn_completed_delay"`
	LLMTTFT                  float64   `json:"llm_ttft"`
	LLMDuration              float64   `json:"llm_total_duration"`
	TTSTTFB                  float64   `json:"tts_ttfb"`
	TTSAudioDuration         float64   `json:"tts_audio_duration"`
	TTSCharacters            int       `json:"tts_characters"`
	PromptTokens             int       `json:"prompt_tokens"`
	PromptCachedTokens       int       `json:"prompt_cached_tokens"`
	CompletionTokens         int       `json:"completion_tokens"`
	TotalTokens              int       `json:"total_tokens"`
	LatencySeconds           float64   `json:"latency_seconds"`
	CreatedAt                time.Time `json:"created_at"`
	ClosedAt                 time.Time `json:"closed_at"`
}

// partialTurn is the per-speech_id accumulator.
type partialTurn struct {
	rec      TurnRecord
	eouSeen  bool
	llmSeen  bool
	ttsSeen  bool
	watchdog *time.Timer
}

// Summary aggregates a session at shutdown. Averages cover closed turns
// only; abandoned turns are excluded.
type Summary struct {
	Turns             int         `json:"turns"`
	AbandonedTurns    int         `json:"abandoned_turns"`
	AvgLatencySeconds float64     `json:"avg_latency_seconds"`
	AvgLLMTTFT        float64     `json:"avg_llm_ttft"`
	AvgTTSTTFB        float64     `json:"avg_tts_ttfb"`
	SessionLength     float64     `json:"session_length"`
	Usage             types.Usage `json:"usage"`
	STTAudioSeconds   float64     `json:"stt_audio_seconds"`
	TTSAudioSeconds   float64     `json:"tts_audio_seconds"`
	TTSCharacters     int         `json:"tts_characters"`
}

// Ledger turns pipeline events into turn records. A turn finalizes when,
// and only when, its EOU delay, LLM TTFT, and TTS TTFB are all present.
// Safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	logger   *slog.Logger
	watchdog time.Duration
	onTurn   func(TurnRecord) // invoked outside callers' control flow, under mu

	partial   map[string]*partialTurn
	finalized map[string]bool
	records   []TurnRecord

	usage      types.Usage
	sttSeconds float64
	ttsSeconds float64
	ttsChars   int
	firstEvent time.Time
	lastEvent  time.Time
}

// Option configures the ledger.
type Option func(*Ledger)

// WithWatchdog overrides the abandoned-turn timeout.
func WithWatchdog(d time.Duration) Option {
	return func(l *Ledger) { l.watchdog = d }
}

// WithTurnSink registers a callback invoked for every record, completed or
// abandoned, in close order.
func WithTurnSink(fn func(TurnRecord)) Option {
	return func(l *Ledger) { l.onTurn = fn }
}

// NewLedger creates an empty ledger.
func NewLedger(logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		logger:    logger,
		watchdog:  DefaultWatchdog,
		partial:   make(map[string]*partialTurn),
		finalized: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// touch updates the session clock. Callers hold mu.
func (l *Ledger) touch(t time.Time) {
	if t.IsZero() {
		t = time.Now()
	}
	if l.firstEvent.IsZero() || t.Before(l.firstEvent) {
		l.firstEvent = t
	}
	if t.After(l.lastEvent) {
		l.lastEvent = t
	}
}

// get returns the accumulator for id, creating it on first sight. Returns
// nil for events that must be dropped. Callers hold mu.
func (l *Ledger) get(id, kind string) *partialTurn {
	if id == "" {
		l.logger.Warn("metrics event without speech_id dropped", "kind", kind)
		return nil
	}
	if l.finalized[id] {
		l.logger.Warn("metrics event for finalized turn dropped", "kind", kind, "speech_id", id)
		return nil
	}
	p, ok := l.partial[id]
	if !ok {
		p = &partialTurn{rec: TurnRecord{SpeechID: id, CreatedAt: time.Now()}}
		l.partial[id] = p
	}
	return p
}

// OnSTT records transcriber audio consumption.
func (l *Ledger) OnSTT(e STTEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(time.Now())
	p := l.get(e.SpeechID, "stt")
	if p == nil {
		return
	}
	p.rec.STTSeconds = e.AudioDuration
	p.rec.STTStreamed = e.Streamed
	l.sttSeconds += e.AudioDuration
}

// OnEOU records end-of-utterance timings and arms the watchdog.
func (l *Ledger) OnEOU(e EOUEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(e.LastSpeakingTime)
	p := l.get(e.SpeechID, "eou")
	if p == nil {
		return
	}
	p.rec.EOUDelay = e.EOUDelay
	p.rec.TranscriptionDelay = e.TranscriptionDelay
	p.rec.OnUserTurnCompletedDelay = e.OnUserTurnCompletedDelay
	p.eouSeen = true
	if p.watchdog == nil && l.watchdog > 0 {
		id := e.SpeechID
		p.watchdog = time.AfterFunc(l.watchdog, func() { l.abandon(id) })
	}
	l.tryFinalize(e.SpeechID, p)
}

// OnLLM records generation timings and accumulates token usage.
func (l *Ledger) OnLLM(e LLMEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(time.Now())
	p := l.get(e.SpeechID, "llm")
	if p == nil {
		return
	}
	p.rec.LLMTTFT = e.TTFT
	p.rec.LLMDuration = e.Duration
	p.rec.PromptTokens = e.Usage.PromptTokens
	p.rec.PromptCachedTokens = e.Usage.PromptCachedTokens
	p.rec.CompletionTokens = e.Usage.CompletionTokens
	p.rec.TotalTokens = e.Usage.TotalTokens
	p.llmSeen = true
	l.usage = l.usage.Add(e.Usage)
	l.tryFinalize(e.SpeechID, p)
}

// OnTTS records synthesis timings.
func (l *Ledger) OnTTS(e TTSEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touch(e.Timestamp)
	p := l.get(e.SpeechID, "tts")
	if p == nil {
		return
	}
	p.rec.TTSTTFB = e.TTFB
	p.rec.TTSAudioDuration = e.AudioDuration
	p.rec.TTSCharacters = e.Characters
	p.ttsSeen = true
	l.ttsSeconds += e.AudioDuration
	l.ttsChars += e.Characters
	l.tryFinalize(e.SpeechID, p)
}

// AddUsage bumps the session token counters without touching any turn.
// Used for requests that were billed but whose output was discarded.
func (l *Ledger) AddUsage(u types.Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = l.usage.Add(u)
}

// SetTranscript attaches the final user transcript to a turn.
func (l *Ledger) SetTranscript(speechID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.partial[speechID]; ok {
		p.rec.UserTranscript = text
	}
}

// SetAssistantText attaches the assistant reply to a turn.
func (l *Ledger) SetAssistantText(speechID, text string, interrupted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.partial[speechID]; ok {
		p.rec.AssistantText = text
		p.rec.Interrupted = interrupted
	}
}

// tryFinalize closes the turn once all three required timings are present.
// Callers hold mu.
func (l *Ledger) tryFinalize(id string, p *partialTurn) {
	if !p.eouSeen || !p.llmSeen || !p.ttsSeen {
		return
	}
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
	p.rec.LatencySeconds = p.rec.EOUDelay + p.rec.LLMTTFT + p.rec.TTSTTFB
	p.rec.ClosedAt = time.Now()
	delete(l.partial, id)
	l.finalized[id] = true
	l.records = append(l.records, p.rec)
	if l.onTurn != nil {
		l.onTurn(p.rec)
	}
}

// abandon records whatever partial data exists for a turn that never
// finalized within the watchdog window.
func (l *Ledger) abandon(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.partial[id]
	if !ok {
		return
	}
	l.logger.Warn("turn abandoned by watchdog", "speech_id", id)
	p.rec.Abandoned = true
	p.rec.ClosedAt = time.Now()
	delete(l.partial, id)
	l.finalized[id] = true
	l.records = append(l.records, p.rec)
	if l.onTurn != nil {
		l.onTurn(p.rec)
	}
}

// Records returns all closed records in close order.
func (l *Ledger) Records() []TurnRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TurnRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Summarize computes the session summary. Pending partial turns are not
// flushed; call Shutdown first at end of session.
func (l *Ledger) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		Usage:           l.usage,
		STTAudioSeconds: l.sttSeconds,
		TTSAudioSeconds: l.ttsSeconds,
		TTSCharacters:   l.ttsChars,
	}
	if !l.firstEvent.IsZero() {
		s.SessionLength = l.lastEvent.Sub(l.firstEvent).Seconds()
	}

	var latency, ttft, ttfb float64
	for _, rec := range l.records {
		if rec.Abandoned {
			s.AbandonedTurns++
			continue
		}
		s.Turns++
		latency += rec.LatencySeconds
		ttft += rec.LLMTTFT
		ttfb += rec.TTSTTFB
	}
	if s.Turns > 0 {
		s.AvgLatencySeconds = latency / float64(s.Turns)
		s.AvgLLMTTFT = ttft / float64(s.Turns)
		s.AvgTTSTTFB = ttfb / float64(s.Turns)
	}
	return s
}

// Shutdown stops watchdogs and flushes remaining partial turns as abandoned.
func (l *Ledger) Shutdown() {
	l.mu.Lock()
	ids := make([]string, 0, len(l.partial))
	for id, p := range l.partial {
		if p.watchdog != nil {
			p.watchdog.Stop()
		}
		ids = append(ids, id)
	}
	l.mu.Unlock()
	for _, id := range ids {
		l.abandon(id)
	}
}
