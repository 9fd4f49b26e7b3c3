package telephony

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	callApi "github.com/twilio/twilio-go/rest/api/v2010"
	trunkApi "github.com/twilio/twilio-go/rest/trunking/v1"
)

// TwilioConfig holds carrier credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// TwilioAPI implements TrunkAPI and CallAPI against Twilio.
type TwilioAPI struct {
	client *twilio.RestClient
}

// NewTwilioAPI builds the carrier client.
func NewTwilioAPI(cfg TwilioConfig) *TwilioAPI {
	return &TwilioAPI{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
	}
}

// FindTrunk returns the id of the trunk with the given friendly name, or
// "" when none exists.
func (t *TwilioAPI) FindTrunk(_ context.Context, name string) (string, error) {
	trunks, err := t.client.TrunkingV1.ListTrunk(&trunkApi.ListTrunkParams{})
	if err != nil {
		return "", err
	}
	for _, trunk := range trunks {
		if trunk.FriendlyName != nil && *trunk.FriendlyName == name && trunk.Sid != nil {
			return *trunk.Sid, nil
		}
	}
	return "", nil
}

// CreateTrunk provisions a trunk and its origination URL.
func (t *TwilioAPI) CreateTrunk(_ context.Context, cfg TrunkConfig) (string, error) {
	params := &trunkApi.CreateTrunkParams{}
	params.SetFriendlyName(cfg.Name)
	trunk, err := t.client.TrunkingV1.CreateTrunk(params)
	if err != nil {
		return "", err
	}
	if trunk.Sid == nil {
		return "", fmt.Errorf("trunk created without sid")
	}

	origination := &trunkApi.CreateOriginationUrlParams{}
	origination.SetFriendlyName(cfg.Name)
	origination.SetSipUrl("sip:" + cfg.Address)
	origination.SetWeight(1)
	origination.SetPriority(1)
	origination.SetEnabled(true)
	if _, err := t.client.TrunkingV1.CreateOriginationUrl(*trunk.Sid, origination); err != nil {
		return "", err
	}
	return *trunk.Sid, nil
}

// CreateCall issues the SIP INVITE for one outbound call.
func (t *TwilioAPI) CreateCall(_ context.Context, params DialParams) (string, error) {
	create := &callApi.CreateCallParams{}
	create.SetTo(fmt.Sprintf("sip:%s@%s", params.CalleeNumber, params.TrunkID))
	create.SetFrom(params.CallerNumber)
	create.SetTimeout(int(DefaultAnswerWait.Seconds()))
	create.SetTwiml("<Response><Pause length=\"3600\"/></Response>")
	call, err := t.client.Api.CreateCall(create)
	if err != nil {
		return "", err
	}
	if call.Sid == nil {
		return "", fmt.Errorf("call created without sid")
	}
	return *call.Sid, nil
}

// CallStatus fetches the current carrier status for a call.
func (t *TwilioAPI) CallStatus(_ context.Context, callSID string) (string, error) {
	call, err := t.client.Api.FetchCall(callSID, &callApi.FetchCallParams{})
	if err != nil {
		return "", err
	}
	if call.Status == nil {
		return "", nil
	}
	return *call.Status, nil
}

// EndCall hangs up. Already-completed calls are not an error.
func (t *TwilioAPI) EndCall(_ context.Context, callSID string) error {
	update := &callApi.UpdateCallParams{}
	update.SetStatus(StatusCompleted)
	_, err := t.client.Api.UpdateCall(callSID, update)
	return err
}
