package live

import (
	"strings"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
)

// defaultBackchannels are short acknowledgements that should not cancel the
// agent mid-sentence.
var defaultBackchannels = []string{
	"haan", "ha", "hmm", "hm", "accha", "acha", "theek", "thik",
	"ok", "okay", "yeah", "yes", "right", "sure", "uh-huh",
}

// interruptionMonitor watches user audio and transcripts while the agent is
// generating or speaking, and decides when a barge-in is real.
type interruptionMonitor struct {
	audio        vad.AudioConfig
	threshold    float64
	minDuration  time.Duration
	minWords     int
	backchannels map[string]struct{}

	speechRun  time.Duration
	transcript strings.Builder
}

func newInterruptionMonitor(audio vad.AudioConfig, threshold float64, minDuration time.Duration, minWords int) *interruptionMonitor {
	m := &interruptionMonitor{
		audio:        audio,
		threshold:    threshold,
		minDuration:  minDuration,
		minWords:     minWords,
		backchannels: make(map[string]struct{}, len(defaultBackchannels)),
	}
	for _, w := range defaultBackchannels {
		m.backchannels[w] = struct{}{}
	}
	return m
}

// OnFrame feeds one PCM frame. Silence resets the sustained-speech run.
func (m *interruptionMonitor) OnFrame(frame []byte) {
	if vad.RMSEnergy(frame) >= m.threshold {
		m.speechRun += m.audio.Duration(len(frame))
	} else {
		m.speechRun = 0
	}
}

// OnTranscript feeds decoded user text heard during agent output.
func (m *interruptionMonitor) OnTranscript(text string) {
	if text == "" {
		return
	}
	if m.transcript.Len() > 0 {
		m.transcript.WriteByte(' ')
	}
	m.transcript.WriteString(text)
}

// Transcript returns the text captured since the last reset.
func (m *interruptionMonitor) Transcript() string {
	return m.transcript.String()
}

// sustained reports whether speech has run for at least the minimum duration.
func (m *interruptionMonitor) sustained() bool {
	return m.speechRun >= m.minDuration
}

// wordCount counts decoded words so far.
func (m *interruptionMonitor) wordCount() int {
	return len(strings.Fields(m.transcript.String()))
}

// isBackchannel reports whether everything heard so far is acknowledgement
// filler rather than an attempt to take the turn.
func (m *interruptionMonitor) isBackchannel() bool {
	words := strings.Fields(strings.ToLower(m.transcript.String()))
	if len(words) == 0 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		if _, ok := m.backchannels[w]; !ok {
			return false
		}
	}
	return true
}

// Confirmed reports whether the barge-in gates have all been met.
func (m *interruptionMonitor) Confirmed() bool {
	if !m.sustained() {
		return false
	}
	if m.minWords > 0 {
		if m.wordCount() < m.minWords {
			return false
		}
		if m.isBackchannel() {
			return false
		}
	}
	return true
}

// Reset clears captured speech and transcript.
func (m *interruptionMonitor) Reset() {
	m.speechRun = 0
	m.transcript.Reset()
}
