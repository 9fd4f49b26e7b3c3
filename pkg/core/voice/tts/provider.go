// Package tts provides streaming text-to-speech.
package tts

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingContext creates a context for incremental text streaming.
	// Text is sent in chunks and audio streamed back as it is generated.
	NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error)
}

// StreamingContextOptions configures a streaming context.
type StreamingContextOptions struct {
	Voice      string  // Voice identifier
	Speaker    string  // Speaker name, for providers that select by speaker
	Speed      float64 // Speed multiplier
	Language   string  // Language code
	Format     string  // Output format: "wav", "mp3", or "pcm"
	SampleRate int     // Sample rate in Hz (default 24000)
}

func (o StreamingContextOptions) sampleRate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return 24000
}

// Metrics summarizes one synthesis stream.
type Metrics struct {
	TTFB          time.Duration // request start to first audio chunk
	Characters    int           // text characters sent for synthesis
	AudioDuration float64       // seconds of audio produced
}

// StreamingContext manages an incremental TTS session. Text chunks go in via
// SendText, audio chunks come out via Audio. Closing mid-stream aborts
// synthesis and drains nothing further.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	startedAt  time.Time
	firstAudio atomic.Int64 // unix nanos of first chunk, 0 until then
	characters atomic.Int64
	audioBytes atomic.Int64
	sampleRate int

	// Populated by provider implementations.
	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates a new streaming context. sampleRate is used to
// derive audio duration from raw PCM byte counts.
func NewStreamingContext(sampleRate int) *StreamingContext {
	return &StreamingContext{
		audio:      make(chan []byte, 100),
		done:       make(chan struct{}),
		startedAt:  time.Now(),
		sampleRate: sampleRate,
	}
}

// SendText sends a text chunk to be synthesized. Set isFinal=true for the
// last chunk to signal completion.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return core.NewProtocolError("streaming context closed")
	}
	sc.characters.Add(int64(utf8.RuneCountInString(text)))
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent and generation should complete.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of audio chunks. Closed when synthesis ends.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Err returns any error that occurred.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Metrics returns the stream's timing and volume counters. TTFB is zero
// until the first audio chunk arrives.
func (sc *StreamingContext) Metrics() Metrics {
	m := Metrics{
		Characters: int(sc.characters.Load()),
	}
	if first := sc.firstAudio.Load(); first > 0 {
		m.TTFB = time.Unix(0, first).Sub(sc.startedAt)
	}
	if sc.sampleRate > 0 {
		// 16-bit mono PCM: two bytes per sample.
		m.AudioDuration = float64(sc.audioBytes.Load()) / float64(2*sc.sampleRate)
	}
	return m
}

// Close aborts the session. Safe to call more than once.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// Done returns a channel closed when the context is done.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// PushAudio delivers an audio chunk to the consumer. Returns false if the
// context closed. For provider implementations.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	sc.firstAudio.CompareAndSwap(0, time.Now().UnixNano())
	select {
	case sc.audio <- chunk:
		sc.audioBytes.Add(int64(len(chunk)))
		return true
	case <-sc.done:
		return false
	}
}

// SetError records the context error. For provider implementations.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	sc.err = err
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel. For provider implementations.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}
