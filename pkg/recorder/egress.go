package recorder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	callApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Egress is the carrier-side composite recording surface.
type Egress interface {
	Start(ctx context.Context, callSID string) (string, error)
	Stop(ctx context.Context, callSID, egressID string) error
	Fetch(ctx context.Context, egressID string) ([]byte, error)
}

// TwilioEgressConfig holds carrier credentials for the egress client.
type TwilioEgressConfig struct {
	AccountSID string
	AuthToken  string
}

// TwilioEgress records through the carrier and downloads the artifact
// over authenticated HTTP.
type TwilioEgress struct {
	cfg        TwilioEgressConfig
	client     *twilio.RestClient
	httpClient *http.Client
}

// NewTwilioEgress builds the egress client.
func NewTwilioEgress(cfg TwilioEgressConfig) *TwilioEgress {
	return &TwilioEgress{
		cfg: cfg,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Start begins a single continuous composite recording on an in-progress call.
func (e *TwilioEgress) Start(_ context.Context, callSID string) (string, error) {
	params := &callApi.CreateCallRecordingParams{}
	params.SetRecordingChannels("mono")
	params.SetRecordingTrack("both")
	params.SetTrim("do-not-trim")
	rec, err := e.client.Api.CreateCallRecording(callSID, params)
	if err != nil {
		return "", fmt.Errorf("start recording: %w", err)
	}
	if rec.Sid == nil {
		return "", fmt.Errorf("recording created without sid")
	}
	return *rec.Sid, nil
}

// Stop ends the recording. Stopping an already finished recording is not
// an error.
func (e *TwilioEgress) Stop(_ context.Context, callSID, egressID string) error {
	params := &callApi.UpdateCallRecordingParams{}
	params.SetStatus("stopped")
	if _, err := e.client.Api.UpdateCallRecording(callSID, egressID, params); err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	return nil
}

// Fetch downloads the finished artifact.
func (e *TwilioEgress) Fetch(ctx context.Context, egressID string) ([]byte, error) {
	mediaURL := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Recordings/%s.wav",
		e.cfg.AccountSID, egressID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(e.cfg.AccountSID, e.cfg.AuthToken)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download recording: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
