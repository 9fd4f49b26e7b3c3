package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaSTTURL  = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion = "2025-04-16"
)

// CartesiaProvider implements streaming STT over Cartesia's WebSocket.
type CartesiaProvider struct {
	apiKey string
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

// cartesiaSTTMessage is one message from the STT WebSocket.
type cartesiaSTTMessage struct {
	Type        string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Duration    float64 `json:"duration"`
	Probability float64 `json:"probability"`
	Error       string  `json:"error"`
}

// NewStream opens a live transcription session.
func (c *CartesiaProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(cartesiaSTTURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = "pcm_s16le"
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", opts.language())
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", opts.sampleRate()))
	// Endpointing is handled upstream by the VAD and turn detector, so no
	// max_silence_duration_secs: Cartesia then streams interim transcripts
	// continuously. min_volume still filters background noise.
	q.Set("min_volume", "0.01")
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	s := newWSSession(ctx, conn)
	s.finalizeMsg = []byte("finalize")
	s.closeMsg = []byte("done")
	s.handle = func(data []byte) (TranscriptDelta, bool, bool) {
		return parseCartesiaMessage(data, opts.MinInterimConfidence)
	}
	s.start()
	return s, nil
}

func parseCartesiaMessage(data []byte, minInterimConfidence float64) (TranscriptDelta, bool, bool) {
	var msg cartesiaSTTMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return TranscriptDelta{}, false, false
	}
	switch msg.Type {
	case "transcript":
		if msg.Text == "" {
			return TranscriptDelta{}, false, false
		}
		if !msg.IsFinal && msg.Probability > 0 && msg.Probability < minInterimConfidence {
			return TranscriptDelta{}, false, false
		}
		return TranscriptDelta{
			Text:          msg.Text,
			IsFinal:       msg.IsFinal,
			Confidence:    msg.Probability,
			AudioDuration: msg.Duration,
		}, true, false
	case "done", "error":
		return TranscriptDelta{}, false, true
	default:
		return TranscriptDelta{}, false, false
	}
}
