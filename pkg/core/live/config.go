package live

import (
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
)

// SessionState represents the current state of the agent session.
type SessionState int

const (
	// StateConfiguring is the initial state before the session is started.
	StateConfiguring SessionState = iota
	// StateIdle is when the agent is waiting for user speech.
	StateIdle
	// StateUserSpeaking is when the VAD has confirmed user speech onset.
	StateUserSpeaking
	// StateAwaitingEOU is the endpointing window after user speech ends.
	StateAwaitingEOU
	// StateGeneratingReply is when the LLM is producing the response.
	StateGeneratingReply
	// StateAgentSpeaking is when synthesized audio is being played out.
	StateAgentSpeaking
	// StateClosed is when the session has been shut down.
	StateClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateConfiguring:
		return "CONFIGURING"
	case StateIdle:
		return "IDLE"
	case StateUserSpeaking:
		return "USER_SPEAKING"
	case StateAwaitingEOU:
		return "AWAITING_EOU"
	case StateGeneratingReply:
		return "GENERATING_REPLY"
	case StateAgentSpeaking:
		return "AGENT_SPEAKING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TuningConfig holds the turn-taking knobs.
type TuningConfig struct {
	// MinEndpointingDelay is how long silence must persist after VAD
	// speech-end before the endpointing window opens.
	MinEndpointingDelay time.Duration `json:"min_endpointing_delay"`

	// MaxEndpointingDelay forces the turn to commit even without turn
	// detector confirmation.
	MaxEndpointingDelay time.Duration `json:"max_endpointing_delay"`

	// MinInterruptionDuration is how long user speech must be sustained
	// during agent output before it counts as a barge-in.
	MinInterruptionDuration time.Duration `json:"min_interruption_duration"`

	// MinInterruptionWords is the minimum decoded word count for a barge-in.
	// Zero disables the word gate.
	MinInterruptionWords int `json:"min_interruption_words"`

	// MinConsecutiveSpeechDelay is the minimum gap enforced between two
	// user speech segments before the second opens a new endpointing window.
	MinConsecutiveSpeechDelay time.Duration `json:"min_consecutive_speech_delay"`

	// AgentFalseInterruptionTimeout raises a recovery signal when an
	// interruption is followed by no transcribed speech.
	AgentFalseInterruptionTimeout time.Duration `json:"agent_false_interruption_timeout"`

	// AllowInterruptions enables barge-in handling.
	AllowInterruptions bool `json:"allow_interruptions"`

	// PreemptiveGeneration starts the LLM on the partial transcript while
	// endpointing is still pending.
	PreemptiveGeneration bool `json:"preemptive_generation"`

	// DiscardAudioIfUninterruptible drops user audio during agent speech
	// when interruptions are disabled.
	DiscardAudioIfUninterruptible bool `json:"discard_audio_if_uninterruptible"`

	// UseTTSAlignedTranscript records assistant transcript entries from the
	// synthesized text rather than the raw LLM text.
	UseTTSAlignedTranscript bool `json:"use_tts_aligned_transcript"`
}

// DefaultTuningConfig returns turn-taking defaults tuned for telephony.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{
		MinEndpointingDelay:           250 * time.Millisecond,
		MaxEndpointingDelay:           1200 * time.Millisecond,
		MinInterruptionDuration:       200 * time.Millisecond,
		MinInterruptionWords:          0,
		MinConsecutiveSpeechDelay:     0,
		AgentFalseInterruptionTimeout: time.Second,
		AllowInterruptions:            true,
	}
}

// SessionConfig holds all configuration for an agent session.
type SessionConfig struct {
	// Model is the LLM model for responses, in "provider/model" form.
	Model string `json:"model"`

	// System is the system prompt for the agent.
	System string `json:"system,omitempty"`

	// Tools are the tools available to the agent. A tool named "end_call"
	// terminates the session after the final reply is played out.
	Tools []types.Tool `json:"tools,omitempty"`

	// Messages is pre-existing conversation history.
	Messages []types.Message `json:"messages,omitempty"`

	// Language is the conversation language code (default "en").
	Language string `json:"language,omitempty"`

	// SampleRate is the input audio sample rate in Hz. Default: 16000.
	SampleRate int `json:"sample_rate"`

	// MaxTokens caps LLM responses.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls LLM response randomness.
	Temperature *float64 `json:"temperature,omitempty"`

	// Voice is the TTS voice or speaker identifier.
	Voice string `json:"voice,omitempty"`

	// STTModel overrides the transcription model.
	STTModel string `json:"stt_model,omitempty"`

	// Pronunciations maps written tokens to their spoken forms.
	Pronunciations map[string]string `json:"pronunciations,omitempty"`

	// VAD configures frame-level speech detection.
	VAD vad.Config `json:"vad"`

	// Tuning configures turn taking.
	Tuning TuningConfig `json:"tuning"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:      "openai/gpt-4o-mini",
		Language:   "en",
		SampleRate: 16000,
		MaxTokens:  1024,
		VAD:        vad.DefaultConfig(),
		Tuning:     DefaultTuningConfig(),
	}
}
