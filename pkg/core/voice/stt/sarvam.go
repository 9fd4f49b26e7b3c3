package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const sarvamSTTURL = "wss://api.sarvam.ai/speech-to-text/ws"

// SarvamProvider implements streaming STT over Sarvam's WebSocket. Sarvam
// covers Indic languages; audio goes up as base64 JSON frames rather than
// binary messages.
type SarvamProvider struct {
	apiKey string
}

// NewSarvam creates a new Sarvam STT provider.
func NewSarvam(apiKey string) *SarvamProvider {
	return &SarvamProvider{apiKey: apiKey}
}

// Name returns the provider identifier.
func (p *SarvamProvider) Name() string { return "sarvam" }

// sarvamAudioFrame is one outgoing audio message.
type sarvamAudioFrame struct {
	Audio struct {
		Data       string `json:"data"` // base64 PCM
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sample_rate"`
	} `json:"audio"`
}

// sarvamSTTMessage is one incoming message.
type sarvamSTTMessage struct {
	Type string `json:"type"` // "data", "events", "error"
	Data struct {
		Transcript   string `json:"transcript"`
		LanguageCode string `json:"language_code"`
		IsFinal      bool   `json:"is_final"`
		Metrics      struct {
			AudioDuration float64 `json:"audio_duration"`
		} `json:"metrics"`
	} `json:"data"`
}

// sarvamLanguageCode widens a bare ISO code to Sarvam's locale form.
func sarvamLanguageCode(lang string) string {
	switch lang {
	case "hi":
		return "hi-IN"
	case "en":
		return "en-IN"
	default:
		if len(lang) == 2 {
			return lang + "-IN"
		}
		return lang
	}
}

// NewStream opens a live transcription session.
func (p *SarvamProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	u, err := url.Parse(sarvamSTTURL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "saarika:v2.5"
	}

	q := u.Query()
	q.Set("model", model)
	q.Set("language-code", sarvamLanguageCode(opts.language()))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("api-subscription-key", p.apiKey)

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

	sampleRate := opts.sampleRate()
	s := newWSSession(ctx, conn)
	s.finalizeMsg = []byte(`{"event":"flush"}`)
	s.frameAudio = func(data []byte) (int, []byte, error) {
		var frame sarvamAudioFrame
		frame.Audio.Data = base64.StdEncoding.EncodeToString(data)
		frame.Audio.Encoding = "audio/x-raw"
		frame.Audio.SampleRate = sampleRate
		payload, err := json.Marshal(frame)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal audio frame: %w", err)
		}
		return websocket.TextMessage, payload, nil
	}
	s.handle = func(data []byte) (TranscriptDelta, bool, bool) {
		var msg sarvamSTTMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return TranscriptDelta{}, false, false
		}
		switch msg.Type {
		case "data":
			if msg.Data.Transcript == "" {
				return TranscriptDelta{}, false, false
			}
			return TranscriptDelta{
				Text:          msg.Data.Transcript,
				IsFinal:       msg.Data.IsFinal,
				AudioDuration: msg.Data.Metrics.AudioDuration,
			}, true, false
		case "error":
			return TranscriptDelta{}, false, true
		default:
			return TranscriptDelta{}, false, false
		}
	}
	s.start()
	return s, nil
}
