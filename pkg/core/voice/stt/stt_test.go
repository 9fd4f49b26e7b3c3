package stt

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

func TestParseDeepgramMessage(t *testing.T) {
	data := []byte(`{"type":"Results","is_final":true,"start":1.2,"duration":0.8,` +
		`"channel":{"alternatives":[{"transcript":"haan theek hai","confidence":0.97}]}}`)

	delta, emit, stop := parseDeepgramMessage(data, 0)
	if !emit || stop {
		t.Fatalf("emit=%v stop=%v, want emit without stop", emit, stop)
	}
	if delta.Text != "haan theek hai" || !delta.IsFinal {
		t.Fatalf("delta = %+v, want final transcript", delta)
	}
	if delta.AudioDuration != 2.0 {
		t.Fatalf("audio duration = %v, want 2.0", delta.AudioDuration)
	}
}

func TestParseDeepgramMessage_DropsLowConfidenceInterim(t *testing.T) {
	data := []byte(`{"type":"Results","is_final":false,` +
		`"channel":{"alternatives":[{"transcript":"uh","confidence":0.2}]}}`)

	if _, emit, _ := parseDeepgramMessage(data, 0.5); emit {
		t.Fatal("low-confidence interim should be dropped")
	}

	// Finals always pass regardless of confidence.
	final := []byte(`{"type":"Results","is_final":true,` +
		`"channel":{"alternatives":[{"transcript":"uh","confidence":0.2}]}}`)
	if _, emit, _ := parseDeepgramMessage(final, 0.5); !emit {
		t.Fatal("final transcript should always be emitted")
	}
}

func TestParseCartesiaMessage(t *testing.T) {
	data := []byte(`{"type":"transcript","text":"hello","is_final":false,"duration":0.5,"probability":0.9}`)

	delta, emit, stop := parseCartesiaMessage(data, 0)
	if !emit || stop {
		t.Fatalf("emit=%v stop=%v, want emit without stop", emit, stop)
	}
	if delta.Text != "hello" || delta.IsFinal {
		t.Fatalf("delta = %+v, want interim transcript", delta)
	}

	if _, emit, stop := parseCartesiaMessage([]byte(`{"type":"done"}`), 0); emit || !stop {
		t.Fatal("done message should stop the read loop without emitting")
	}
	if _, emit, _ := parseCartesiaMessage([]byte(`{"type":"transcript","text":""}`), 0); emit {
		t.Fatal("empty transcript should be dropped")
	}
}

func TestSarvamLanguageCode(t *testing.T) {
	cases := map[string]string{
		"hi":    "hi-IN",
		"en":    "en-IN",
		"ta":    "ta-IN",
		"bn-IN": "bn-IN",
	}
	for in, want := range cases {
		if got := sarvamLanguageCode(in); got != want {
			t.Errorf("sarvamLanguageCode(%q) = %q, want %q", in, got, want)
		}
	}
}

// failingProvider always fails to dial.
type failingProvider struct {
	attempts int
}

func (f *failingProvider) Name() string { return "failing" }

func (f *failingProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	f.attempts++
	return nil, fmt.Errorf("connection refused")
}

func TestOpen_RetriesOnceThenStreamUnavailable(t *testing.T) {
	p := &failingProvider{}
	_, err := Open(context.Background(), p, StreamOptions{})
	if err == nil {
		t.Fatal("Open() error = nil, want stream unavailable")
	}
	if !errors.Is(err, core.ErrStreamUnavailable) {
		t.Fatalf("Open() error = %v, want ErrStreamUnavailable in chain", err)
	}
	if p.attempts != 2 {
		t.Fatalf("dial attempts = %d, want 2 (original + one retry)", p.attempts)
	}
	var typed *core.Error
	if !errors.As(err, &typed) || !typed.IsRetryable() {
		t.Fatalf("error = %v, want retryable transport error", err)
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"deepgram", "sarvam", "cartesia"} {
		p, err := NewProvider(name, "key")
		if err != nil {
			t.Fatalf("NewProvider(%q) error = %v", name, err)
		}
		if p.Name() != name {
			t.Fatalf("Name() = %q, want %q", p.Name(), name)
		}
	}
	if _, err := NewProvider("whisperx", "key"); err == nil {
		t.Fatal("unknown provider should error")
	}
}
