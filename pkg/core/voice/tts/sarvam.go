package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

const sarvamTTSURL = "https://api.sarvam.ai/text-to-speech"

// SarvamProvider implements TTS via Sarvam's bulbul models. Sarvam has no
// incremental WebSocket; the streaming context synthesizes each text chunk
// with a sequential HTTP call, which keeps chunk audio ordered.
type SarvamProvider struct {
	apiKey     string
	speaker    string
	httpClient *http.Client
}

// NewSarvam creates a Sarvam TTS provider bound to one speaker, e.g.
// "anushka" or "manisha".
func NewSarvam(apiKey, speaker string) *SarvamProvider {
	return &SarvamProvider{
		apiKey:     apiKey,
		speaker:    speaker,
		httpClient: &http.Client{},
	}
}

// Name returns the provider identifier including the speaker.
func (p *SarvamProvider) Name() string {
	return "sarvam_" + p.speaker
}

type sarvamTTSRequest struct {
	Text               string  `json:"text"`
	TargetLanguageCode string  `json:"target_language_code"`
	Speaker            string  `json:"speaker"`
	Model              string  `json:"model"`
	SpeechSampleRate   int     `json:"speech_sample_rate"`
	Pace               float64 `json:"pace,omitempty"`
}

type sarvamTTSResponse struct {
	Audios    []string `json:"audios"` // base64 WAV
	RequestID string   `json:"request_id"`
}

// sarvamLanguageCode widens a bare ISO code to Sarvam's locale form.
func sarvamLanguageCode(lang string) string {
	switch lang {
	case "hi", "":
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

// stripWAVHeader drops the 44-byte RIFF header so chunks concatenate into a
// continuous PCM stream.
func stripWAVHeader(data []byte) []byte {
	if len(data) > 44 && bytes.HasPrefix(data, []byte("RIFF")) {
		return data[44:]
	}
	return data
}

func (p *SarvamProvider) synthesizeChunk(ctx context.Context, text string, opts StreamingContextOptions) ([]byte, error) {
	reqBody := sarvamTTSRequest{
		Text:               text,
		TargetLanguageCode: sarvamLanguageCode(opts.Language),
		Speaker:            p.speaker,
		Model:              "bulbul:v2",
		SpeechSampleRate:   opts.sampleRate(),
		Pace:               opts.Speed,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sarvamTTSURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sarvam request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sarvam error %d: %s", resp.StatusCode, string(errBody))
	}

	var ttsResp sarvamTTSResponse
	if err := json.NewDecoder(resp.Body).Decode(&ttsResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(ttsResp.Audios) == 0 {
		return nil, fmt.Errorf("sarvam returned no audio")
	}

	audio, err := base64.StdEncoding.DecodeString(ttsResp.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return stripWAVHeader(audio), nil
}

type sarvamChunk struct {
	text    string
	isFinal bool
}

// NewStreamingContext creates a streaming context for incremental synthesis.
func (p *SarvamProvider) NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error) {
	sc := NewStreamingContext(opts.sampleRate())
	chunks := make(chan sarvamChunk, 32)

	sc.SendFunc = func(text string, isFinal bool) error {
		select {
		case chunks <- sarvamChunk{text: text, isFinal: isFinal}:
			return nil
		case <-sc.Done():
			return core.NewProtocolError("streaming context closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer sc.FinishAudio()
		for {
			select {
			case <-ctx.Done():
				sc.SetError(ctx.Err())
				return
			case <-sc.Done():
				return
			case chunk := <-chunks:
				if chunk.text != "" {
					audio, err := p.synthesizeChunk(ctx, chunk.text, opts)
					if err != nil {
						sc.SetError(err)
						return
					}
					if !sc.PushAudio(audio) {
						return
					}
				}
				if chunk.isFinal {
					return
				}
			}
		}
	}()

	return sc, nil
}
