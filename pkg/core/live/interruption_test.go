package live

import (
	"testing"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/vad"
)

func testMonitor(minWords int) *interruptionMonitor {
	audio := vad.AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
	return newInterruptionMonitor(audio, 0.02, 60*time.Millisecond, minWords)
}

func TestMonitorRequiresSustainedSpeech(t *testing.T) {
	m := testMonitor(0)
	loud := pcmFrame(16000)
	quiet := pcmFrame(0)

	m.OnFrame(loud) // 20ms
	m.OnFrame(loud) // 40ms
	if m.Confirmed() {
		t.Fatal("confirmed before minimum duration")
	}
	m.OnFrame(quiet) // silence resets the run
	m.OnFrame(loud)
	m.OnFrame(loud)
	if m.Confirmed() {
		t.Fatal("silence must reset the sustained-speech run")
	}
	m.OnFrame(loud)
	if !m.Confirmed() {
		t.Fatal("expected confirmation after 60ms sustained speech")
	}
}

func TestMonitorWordGate(t *testing.T) {
	m := testMonitor(2)
	loud := pcmFrame(16000)
	for i := 0; i < 4; i++ {
		m.OnFrame(loud)
	}
	if m.Confirmed() {
		t.Fatal("confirmed without enough decoded words")
	}
	m.OnTranscript("wait")
	if m.Confirmed() {
		t.Fatal("one word should not pass a two-word gate")
	}
	m.OnTranscript("stop talking")
	if !m.Confirmed() {
		t.Fatal("expected confirmation with enough words")
	}
}

func TestMonitorBackchannelDismissed(t *testing.T) {
	m := testMonitor(1)
	loud := pcmFrame(16000)
	for i := 0; i < 4; i++ {
		m.OnFrame(loud)
	}
	m.OnTranscript("haan okay")
	if m.Confirmed() {
		t.Fatal("acknowledgement filler must not interrupt")
	}
	m.OnTranscript("but wait I have a question")
	if !m.Confirmed() {
		t.Fatal("real speech after filler should interrupt")
	}
}

func TestMonitorReset(t *testing.T) {
	m := testMonitor(0)
	loud := pcmFrame(16000)
	for i := 0; i < 4; i++ {
		m.OnFrame(loud)
	}
	m.OnTranscript("stop")
	m.Reset()
	if m.Confirmed() || m.Transcript() != "" {
		t.Fatal("reset must clear speech run and transcript")
	}
}
