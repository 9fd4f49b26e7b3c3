package live

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionCreatedEvent is emitted when the session is successfully started.
type SessionCreatedEvent struct {
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
}

func (e *SessionCreatedEvent) EventType() string { return "session.created" }

// SessionClosedEvent is emitted when the session ends.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// UserStartedSpeakingEvent is emitted on confirmed user speech onset.
type UserStartedSpeakingEvent struct{}

func (e *UserStartedSpeakingEvent) EventType() string { return "user.started_speaking" }

// UserStoppedSpeakingEvent is emitted when user speech ends.
type UserStoppedSpeakingEvent struct {
	DurationMs int `json:"duration_ms"`
}

func (e *UserStoppedSpeakingEvent) EventType() string { return "user.stopped_speaking" }

// TranscriptDeltaEvent is emitted as transcription updates arrive.
type TranscriptDeltaEvent struct {
	SpeechID string `json:"speech_id,omitempty"`
	Delta    string `json:"delta"`
	IsFinal  bool   `json:"is_final,omitempty"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// EndOfUtteranceEvent is emitted when the endpointing window opens and a
// speech id is assigned.
type EndOfUtteranceEvent struct {
	SpeechID   string `json:"speech_id"`
	Transcript string `json:"transcript"`
}

func (e *EndOfUtteranceEvent) EventType() string { return "eou.pending" }

// UserTurnCommittedEvent is emitted when the user turn is finalized and
// handed to the LLM.
type UserTurnCommittedEvent struct {
	SpeechID   string `json:"speech_id"`
	Transcript string `json:"transcript"`
	Forced     bool   `json:"forced,omitempty"` // true when max endpointing delay expired
}

func (e *UserTurnCommittedEvent) EventType() string { return "turn.committed" }

// EmptyTurnDiscardedEvent is emitted when endpointing resolves to an empty
// transcript and the turn is dropped.
type EmptyTurnDiscardedEvent struct {
	SpeechID string `json:"speech_id"`
}

func (e *EmptyTurnDiscardedEvent) EventType() string { return "turn.discarded" }

// ResponseTextDeltaEvent is emitted for incremental LLM output.
type ResponseTextDeltaEvent struct {
	SpeechID string `json:"speech_id"`
	Delta    string `json:"delta"`
}

func (e *ResponseTextDeltaEvent) EventType() string { return "response.delta" }

// ResponseDoneEvent is emitted when the LLM stream completes.
type ResponseDoneEvent struct {
	SpeechID string `json:"speech_id"`
	Text     string `json:"text"`
}

func (e *ResponseDoneEvent) EventType() string { return "response.done" }

// AgentStartedSpeakingEvent is emitted when the first TTS frame is enqueued.
type AgentStartedSpeakingEvent struct {
	SpeechID string `json:"speech_id"`
}

func (e *AgentStartedSpeakingEvent) EventType() string { return "agent.started_speaking" }

// AgentStoppedSpeakingEvent is emitted when agent audio finishes or is cut.
type AgentStoppedSpeakingEvent struct {
	SpeechID    string `json:"speech_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

func (e *AgentStoppedSpeakingEvent) EventType() string { return "agent.stopped_speaking" }

// ResponseInterruptedEvent is emitted when a barge-in cancels the response.
type ResponseInterruptedEvent struct {
	SpeechID    string `json:"speech_id"`
	PartialText string `json:"partial_text"`
}

func (e *ResponseInterruptedEvent) EventType() string { return "response.interrupted" }

// FalseInterruptionEvent is the recovery signal raised when an interruption
// was taken but no real speech followed within the timeout.
type FalseInterruptionEvent struct {
	SpeechID string `json:"speech_id,omitempty"`
}

func (e *FalseInterruptionEvent) EventType() string { return "interruption.false" }

// AudioDeltaEvent carries a synthesized audio chunk.
type AudioDeltaEvent struct {
	Data   []byte `json:"data"`
	Format string `json:"format,omitempty"`
}

func (e *AudioDeltaEvent) EventType() string { return "audio.delta" }

// AudioFlushEvent tells consumers to discard buffered playback immediately.
type AudioFlushEvent struct{}

func (e *AudioFlushEvent) EventType() string { return "audio.flush" }

// ToolUseEvent is emitted when the agent invokes a tool.
type ToolUseEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (e *ToolUseEvent) EventType() string { return "tool_use" }

// ErrorEvent is emitted when a component fails.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent is emitted for debugging information.
type DebugEvent struct {
	Category string `json:"category"` // AUDIO, STT, VAD, EOU, LLM, TTS, INTERRUPT, SESSION
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
