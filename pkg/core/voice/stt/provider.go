// Package stt provides streaming speech-to-text over provider WebSockets.
package stt

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// Provider is the interface for streaming speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a live transcription session. Audio is sent
	// incrementally via SendAudio and transcripts received via Transcripts.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is a live transcription session.
type Stream interface {
	// SendAudio sends raw audio in the format given at session creation.
	SendAudio(data []byte) error

	// Transcripts returns the channel of transcript deltas. Closed when the
	// session ends.
	Transcripts() <-chan TranscriptDelta

	// Finalize flushes buffered audio and forces a final transcript for the
	// current utterance. The session stays open.
	Finalize() error

	// Done returns a channel closed when the session ends.
	Done() <-chan struct{}

	// Close tears down the session. Safe to call more than once.
	Close() error
}

// StreamOptions configures a transcription session.
type StreamOptions struct {
	Model                string  // Provider-specific model name
	Language             string  // ISO language code (default "en")
	Encoding             string  // Audio encoding (default "pcm_s16le" / linear16)
	SampleRate           int     // Sample rate in Hz (default 16000)
	MinInterimConfidence float64 // Interim results below this confidence are dropped
}

// TranscriptDelta is a streaming transcript update. Every closed utterance
// produces at least one delta with IsFinal=true.
type TranscriptDelta struct {
	Text          string  // Partial or final transcript
	IsFinal       bool    // True if this segment will not change
	Confidence    float64 // Provider confidence, 0 when not reported
	AudioDuration float64 // Seconds of audio consumed so far in this utterance
}

func (o StreamOptions) sampleRate() int {
	if o.SampleRate > 0 {
		return o.SampleRate
	}
	return 16000
}

func (o StreamOptions) language() string {
	if o.Language != "" {
		return o.Language
	}
	return "en"
}

// Open dials a transcription session, retrying once on transport error.
// A second failure is reported as core.ErrStreamUnavailable.
func Open(ctx context.Context, p Provider, opts StreamOptions) (Stream, error) {
	var stream Stream
	operation := func() error {
		var err error
		stream, err = p.NewStream(ctx, opts)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, core.NewTransportError(p.Name(), fmt.Errorf("%w: %v", core.ErrStreamUnavailable, err))
	}
	return stream, nil
}
