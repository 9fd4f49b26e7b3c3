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

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements streaming STT over Deepgram's listen WebSocket.
type DeepgramProvider struct {
	apiKey string
}

// NewDeepgram creates a new Deepgram STT provider.
func NewDeepgram(apiKey string) *DeepgramProvider {
	return &DeepgramProvider{apiKey: apiKey}
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string { return "deepgram" }

// deepgramResult is one message from the listen WebSocket.
type deepgramResult struct {
	Type     string  `json:"type"` // "Results", "Metadata", "SpeechStarted", "UtteranceEnd"
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// NewStream opens a live transcription session.
func (d *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(deepgramListenURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "nova-2"
	}
	encoding := opts.Encoding
	if encoding == "" || encoding == "pcm_s16le" {
		encoding = "linear16"
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language", opts.language())
	q.Set("encoding", encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", opts.sampleRate()))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

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
	s.finalizeMsg = []byte(`{"type":"Finalize"}`)
	s.closeMsg = []byte(`{"type":"CloseStream"}`)
	s.handle = func(data []byte) (TranscriptDelta, bool, bool) {
		return parseDeepgramMessage(data, opts.MinInterimConfidence)
	}
	s.start()
	return s, nil
}

func parseDeepgramMessage(data []byte, minInterimConfidence float64) (TranscriptDelta, bool, bool) {
	var msg deepgramResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return TranscriptDelta{}, false, false
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return TranscriptDelta{}, false, false
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return TranscriptDelta{}, false, false
	}
	if !msg.IsFinal && alt.Confidence < minInterimConfidence {
		return TranscriptDelta{}, false, false
	}
	return TranscriptDelta{
		Text:          alt.Transcript,
		IsFinal:       msg.IsFinal,
		Confidence:    alt.Confidence,
		AudioDuration: msg.Start + msg.Duration,
	}, true, false
}
