package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	cartesiaWSURL   = "wss://api.cartesia.ai/tts/websocket"
	cartesiaVersion = "2025-04-16"
	cartesiaModelID = "sonic-3"
)

// CartesiaProvider implements streaming TTS over Cartesia's WebSocket.
type CartesiaProvider struct {
	apiKey string
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return &CartesiaProvider{apiKey: apiKey}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string { return "cartesia" }

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

// cartesiaStreamingRequest is one text chunk on the continuation WebSocket.
type cartesiaStreamingRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	ContextID        string                    `json:"context_id"`
	Continue         bool                      `json:"continue"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
	Language         *string                   `json:"language,omitempty"`
}

type cartesiaWSResponse struct {
	Type  string `json:"type"` // "chunk", "done", "flush_done", "error"
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

var contextCounter atomic.Uint64

func generateContextID() string {
	return fmt.Sprintf("ctx_%d", contextCounter.Add(1))
}

func buildOutputFormat(format string, sampleRate int) cartesiaOutputFormat {
	switch format {
	case "mp3":
		return cartesiaOutputFormat{Container: "mp3", SampleRate: sampleRate, BitRate: 128000}
	case "wav":
		return cartesiaOutputFormat{Container: "wav", Encoding: "pcm_s16le", SampleRate: sampleRate}
	default: // raw pcm for live playback
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: sampleRate}
	}
}

// NewStreamingContext creates a streaming context for incremental synthesis.
func (c *CartesiaProvider) NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error) {
	u, err := url.Parse(cartesiaWSURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("cartesia_version", cartesiaVersion)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	sc := NewStreamingContext(opts.sampleRate())

	baseReq := cartesiaStreamingRequest{
		ModelID:      cartesiaModelID,
		Voice:        cartesiaVoiceSpec{Mode: "id", ID: opts.Voice},
		OutputFormat: buildOutputFormat(opts.Format, opts.sampleRate()),
		ContextID:    generateContextID(),
	}
	if opts.Speed != 0 {
		baseReq.GenerationConfig = &cartesiaGenerationConfig{Speed: opts.Speed}
	}
	if opts.Language != "" {
		baseReq.Language = &opts.Language
	}

	var writeMu sync.Mutex
	sc.SendFunc = func(text string, isFinal bool) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		req := baseReq
		req.Transcript = text
		// Continue=false closes the Cartesia context; keep it true until the
		// final chunk or later sends are rejected.
		req.Continue = !isFinal
		return conn.WriteJSON(req)
	}
	sc.CloseFunc = func() error {
		return conn.Close()
	}

	go func() {
		defer sc.FinishAudio()
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				sc.SetError(ctx.Err())
				return
			case <-sc.Done():
				return
			default:
			}

			var msg cartesiaWSResponse
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return
				}
				sc.SetError(err)
				return
			}

			switch msg.Type {
			case "chunk":
				audioData, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					sc.SetError(fmt.Errorf("decode audio: %w", err))
					return
				}
				if !sc.PushAudio(audioData) {
					return
				}
			case "done":
				return
			case "flush_done":
				continue
			case "error":
				sc.SetError(fmt.Errorf("cartesia error: %s", msg.Error))
				return
			}
		}
	}()

	return sc, nil
}
