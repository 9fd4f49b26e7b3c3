// Package sessionlog persists per-session pipeline state as a JSON document
// on the local filesystem.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/metrics"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// TranscriptEntry is one finalized utterance in the transcript list.
type TranscriptEntry struct {
	SpeechID    string `json:"speech_id,omitempty"`
	Role        string `json:"role"`
	Text        string `json:"text"`
	IsFinal     *bool  `json:"is_final,omitempty"`
	Interrupted *bool  `json:"interrupted,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// STTEntry is one transcription measurement.
type STTEntry struct {
	SpeechID      string  `json:"speech_id"`
	AudioDuration float64 `json:"audio_duration"`
	Streamed      bool    `json:"streamed"`
	Timestamp     string  `json:"timestamp"`
}

// LLMEntry is one generation measurement.
type LLMEntry struct {
	SpeechID           string  `json:"speech_id"`
	TTFT               float64 `json:"ttft"`
	Duration           float64 `json:"duration"`
	PromptTokens       int     `json:"prompt_tokens"`
	PromptCachedTokens int     `json:"prompt_cached_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	TotalTokens        int     `json:"total_tokens"`
	Timestamp          string  `json:"timestamp"`
}

// TTSEntry is one synthesis measurement.
type TTSEntry struct {
	SpeechID      string  `json:"speech_id"`
	TTFB          float64 `json:"ttfb"`
	AudioDuration float64 `json:"audio_duration"`
	Characters    int     `json:"characters"`
	Timestamp     string  `json:"timestamp"`
}

// EOUEntry is one endpointing measurement.
type EOUEntry struct {
	SpeechID                 string  `json:"speech_id"`
	EOUDelay                 float64 `json:"eou_delay"`
	TranscriptionDelay       float64 `json:"transcription_delay"`
	OnUserTurnCompletedDelay float64 `json:"on_user_turn_completed_delay"`
	LatencySeconds           float64 `json:"latency_seconds"`
	Timestamp                string  `json:"timestamp"`
}

// ConversationEntry is the per-turn latency breakdown.
type ConversationEntry struct {
	SpeechID       string  `json:"speech_id"`
	UserTranscript string  `json:"user_transcript,omitempty"`
	AssistantText  string  `json:"assistant_response_text,omitempty"`
	Interrupted    bool    `json:"interrupted,omitempty"`
	Abandoned      bool    `json:"abandoned,omitempty"`
	EOUDelay       float64 `json:"eou_delay"`
	LLMTTFT        float64 `json:"llm_ttft"`
	TTSTTFB        float64 `json:"tts_ttfb"`
	LatencySeconds float64 `json:"latency_seconds"`
	Timestamp      string  `json:"timestamp"`
}

// Metadata is the shutdown singleton summarizing the session.
type Metadata struct {
	SessionID       string           `json:"session_id"`
	StartedAt       string           `json:"started_at"`
	EndedAt         string           `json:"ended_at"`
	TTS             string           `json:"tts"`
	STT             string           `json:"stt"`
	LLM             string           `json:"llm"`
	CustomerProfile any              `json:"customer_profile,omitempty"`
	FinalUsage      types.Usage      `json:"final_usage"`
	FinalCost       *costs.Breakdown `json:"final_cost,omitempty"`
	Summary         *metrics.Summary `json:"summary,omitempty"`
}

// document is the full persisted layout. All lists are append-only.
type document struct {
	Metadata     *Metadata           `json:"metadata"`
	Transcript   []TranscriptEntry   `json:"transcript"`
	STT          []STTEntry          `json:"stt"`
	LLM          []LLMEntry          `json:"llm"`
	TTS          []TTSEntry          `json:"tts"`
	EOU          []EOUEntry          `json:"eou"`
	Conversation []ConversationEntry `json:"conversation"`
}

// Writer accumulates session state and persists it after every append.
type Writer struct {
	mu        sync.Mutex
	path      string
	logger    *slog.Logger
	doc       document
	startedAt time.Time

	sessionID string
	ttsName   string
	sttName   string
	llmName   string
}

// Filename builds the session file name from the configured provider names.
func Filename(ttsName, sttName, llmName, sessionID string) string {
	return fmt.Sprintf("%s_%s_%s_session_%s.json", ttsName, sttName, llmName, sessionID)
}

// New creates a writer persisting to dir.
func New(dir, ttsName, sttName, llmName, sessionID string, logger *slog.Logger) *Writer {
	return &Writer{
		path:      filepath.Join(dir, Filename(ttsName, sttName, llmName, sessionID)),
		logger:    logger,
		startedAt: time.Now(),
		sessionID: sessionID,
		ttsName:   ttsName,
		sttName:   sttName,
		llmName:   llmName,
		doc: document{
			Transcript:   []TranscriptEntry{},
			STT:          []STTEntry{},
			LLM:          []LLMEntry{},
			TTS:          []TTSEntry{},
			EOU:          []EOUEntry{},
			Conversation: []ConversationEntry{},
		},
	}
}

// Path returns the session file path.
func (w *Writer) Path() string { return w.path }

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// AddUserTranscript appends a finalized user utterance.
func (w *Writer) AddUserTranscript(speechID, text string, isFinal bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	f := isFinal
	w.doc.Transcript = append(w.doc.Transcript, TranscriptEntry{
		SpeechID:  speechID,
		Role:      string(types.RoleUser),
		Text:      text,
		IsFinal:   &f,
		Timestamp: stamp(time.Time{}),
	})
	w.persistLocked()
}

// AddAssistantTranscript appends an assistant reply.
func (w *Writer) AddAssistantTranscript(speechID, text string, interrupted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := interrupted
	w.doc.Transcript = append(w.doc.Transcript, TranscriptEntry{
		SpeechID:    speechID,
		Role:        string(types.RoleAssistant),
		Text:        text,
		Interrupted: &i,
		Timestamp:   stamp(time.Time{}),
	})
	w.persistLocked()
}

// RecordTurn appends per-leg measurements from one closed metrics record.
// Wire it as the ledger's turn sink.
func (w *Writer) RecordTurn(rec metrics.TurnRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := stamp(rec.ClosedAt)
	w.doc.STT = append(w.doc.STT, STTEntry{
		SpeechID:      rec.SpeechID,
		AudioDuration: rec.STTSeconds,
		Streamed:      rec.STTStreamed,
		Timestamp:     ts,
	})
	w.doc.LLM = append(w.doc.LLM, LLMEntry{
		SpeechID:           rec.SpeechID,
		TTFT:               rec.LLMTTFT,
		Duration:           rec.LLMDuration,
		PromptTokens:       rec.PromptTokens,
		PromptCachedTokens: rec.PromptCachedTokens,
		CompletionTokens:   rec.CompletionTokens,
		TotalTokens:        rec.TotalTokens,
		Timestamp:          ts,
	})
	w.doc.TTS = append(w.doc.TTS, TTSEntry{
		SpeechID:      rec.SpeechID,
		TTFB:          rec.TTSTTFB,
		AudioDuration: rec.TTSAudioDuration,
		Characters:    rec.TTSCharacters,
		Timestamp:     ts,
	})
	w.doc.EOU = append(w.doc.EOU, EOUEntry{
		SpeechID:                 rec.SpeechID,
		EOUDelay:                 rec.EOUDelay,
		TranscriptionDelay:       rec.TranscriptionDelay,
		OnUserTurnCompletedDelay: rec.OnUserTurnCompletedDelay,
		LatencySeconds:           rec.LatencySeconds,
		Timestamp:                ts,
	})
	w.doc.Conversation = append(w.doc.Conversation, ConversationEntry{
		SpeechID:       rec.SpeechID,
		UserTranscript: rec.UserTranscript,
		AssistantText:  rec.AssistantText,
		Interrupted:    rec.Interrupted,
		Abandoned:      rec.Abandoned,
		EOUDelay:       rec.EOUDelay,
		LLMTTFT:        rec.LLMTTFT,
		TTSTTFB:        rec.TTSTTFB,
		LatencySeconds: rec.LatencySeconds,
		Timestamp:      ts,
	})
	w.persistLocked()
}

// Finalize writes the metadata singleton and persists one last time.
func (w *Writer) Finalize(profile any, summary metrics.Summary, cost *costs.Breakdown) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.doc.Metadata = &Metadata{
		SessionID:       w.sessionID,
		StartedAt:       stamp(w.startedAt),
		EndedAt:         stamp(time.Time{}),
		TTS:             w.ttsName,
		STT:             w.sttName,
		LLM:             w.llmName,
		CustomerProfile: profile,
		FinalUsage:      summary.Usage,
		FinalCost:       cost,
		Summary:         &summary,
	}
	return w.writeLocked()
}

// persistLocked writes the document, logging rather than failing the call
// path; persistence must never stall the media loop.
func (w *Writer) persistLocked() {
	if err := w.writeLocked(); err != nil {
		w.logger.Error("session log write failed", "path", w.path, "error", err)
	}
}

func (w *Writer) writeLocked() error {
	data, err := json.MarshalIndent(w.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session log: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return fmt.Errorf("rename session log: %w", err)
	}
	return nil
}
