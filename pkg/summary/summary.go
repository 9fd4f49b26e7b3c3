// Package summary produces the post-call structured record from a
// session transcript and the customer profile.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

// DefaultMaxTranscriptBytes bounds how much transcript is sent to the
// model; older messages are dropped first.
const DefaultMaxTranscriptBytes = 800 * 1024

// Enumerated values for intent fields.
const (
	InterestYes   = "Yes"
	InterestNo    = "No"
	InterestMaybe = "Maybe"

	IncomeBelow25k = "Below 25k"
	Income25kTo50k = "25k-50k"
	Income50kTo1L  = "50k-1L"
	IncomeAbove1L  = "Above 1L"
	IncomeUnknown  = "Unknown"
)

// CallMetadata identifies the call the record describes.
type CallMetadata struct {
	SessionID    string `json:"session_id"`
	RoomName     string `json:"room_name,omitempty"`
	CallDuration string `json:"call_duration,omitempty"`
	CallOutcome  string `json:"call_outcome,omitempty"`
}

// CustomerProfile echoes what was known about the customer, corrected by
// the conversation.
type CustomerProfile struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Location   string `json:"location,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

// VehicleInformation captures the vehicle under discussion.
type VehicleInformation struct {
	VehicleType     string `json:"vehicle_type,omitempty"`
	VehicleModel    string `json:"vehicle_model,omitempty"`
	OwnershipStatus string `json:"ownership_status,omitempty"`
}

// FinancialInformation captures stated financials.
type FinancialInformation struct {
	MonthlyIncomeBracket string `json:"monthly_income_bracket"`
	ExistingLoans        string `json:"existing_loans,omitempty"`
	RequestedAmount      string `json:"requested_amount,omitempty"`
}

// IntentAndQualification is the disposition of the lead.
type IntentAndQualification struct {
	InterestedInLoan  string `json:"interested_in_loan"`
	CallbackRequested bool   `json:"callback_requested"`
	QualificationNote string `json:"qualification_note,omitempty"`
}

// Record is the structured summary with fixed top-level keys.
type Record struct {
	CallMetadata           CallMetadata           `json:"call_metadata"`
	CustomerProfile        CustomerProfile        `json:"customer_profile"`
	VehicleInformation     VehicleInformation     `json:"vehicle_information"`
	FinancialInformation   FinancialInformation   `json:"financial_information"`
	IntentAndQualification IntentAndQualification `json:"intent_and_qualification"`
	SummaryText            string                 `json:"summary_text"`
}

// ErrorRecord is returned when the model output cannot be parsed.
type ErrorRecord struct {
	Error   string `json:"error"`
	RawText string `json:"raw_text"`
}

// LLMClient is the non-streaming completion surface the generator needs.
type LLMClient interface {
	CreateMessage(ctx context.Context, req *types.MessageRequest) (*types.MessageResponse, error)
}

// Config tunes the generator.
type Config struct {
	Model              string
	MaxTranscriptBytes int
}

// Generator builds post-call records.
type Generator struct {
	llm    LLMClient
	logger *slog.Logger
	config Config
}

// NewGenerator builds a generator over the given model client.
func NewGenerator(llm LLMClient, logger *slog.Logger, config Config) *Generator {
	if config.MaxTranscriptBytes <= 0 {
		config.MaxTranscriptBytes = DefaultMaxTranscriptBytes
	}
	return &Generator{llm: llm, logger: logger, config: config}
}

const systemPrompt = `You summarize bank loan telecalling conversations.
Respond with only a JSON object, no prose, with exactly these top-level keys:
call_metadata, customer_profile, vehicle_information, financial_information,
intent_and_qualification, summary_text.
intent_and_qualification.interested_in_loan must be one of "Yes", "No", "Maybe".
financial_information.monthly_income_bracket must be one of "Below 25k",
"25k-50k", "50k-1L", "Above 1L", "Unknown".
summary_text is a short paragraph describing the call.`

// Generate produces the structured record. When the model emits
// unparseable output the raw text is preserved in the returned payload
// instead of failing the session.
func (g *Generator) Generate(ctx context.Context, meta CallMetadata, profile types.CustomerProfile, transcript []types.Message) (json.RawMessage, error) {
	prompt := g.buildPrompt(meta, profile, transcript)

	resp, err := g.llm.CreateMessage(ctx, &types.MessageRequest{
		Model:    g.config.Model,
		System:   systemPrompt,
		Messages: []types.Message{{Role: types.RoleUser, Text: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("summary generation: %w", err)
	}

	text := extractJSON(resp.Text)
	var rec Record
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		g.logger.Warn("summary output not parseable",
			"session_id", meta.SessionID, "error", err)
		fallback, _ := json.Marshal(ErrorRecord{
			Error:   "Invalid JSON generated",
			RawText: resp.Text,
		})
		return fallback, nil
	}

	rec.CallMetadata = meta
	normalize(&rec, profile)
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("summary encode: %w", err)
	}
	return out, nil
}

func (g *Generator) buildPrompt(meta CallMetadata, profile types.CustomerProfile, transcript []types.Message) string {
	var b strings.Builder
	b.WriteString("Call metadata:\n")
	metaJSON, _ := json.Marshal(meta)
	b.Write(metaJSON)
	b.WriteString("\n\nCustomer profile:\n")
	profileJSON, _ := json.Marshal(profile)
	b.Write(profileJSON)
	b.WriteString("\n\nCall transcript:\n")
	b.WriteString(TruncateTranscript(transcript, g.config.MaxTranscriptBytes))
	return b.String()
}

// TruncateTranscript renders the transcript capped at maxBytes,
// preferring the most recent messages and never splitting a message.
func TruncateTranscript(transcript []types.Message, maxBytes int) string {
	lines := make([]string, len(transcript))
	for i, m := range transcript {
		lines[i] = fmt.Sprintf("%s: %s", m.Role, m.Text)
	}

	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}
	start := 0
	for start < len(lines) && total > maxBytes {
		total -= len(lines[start]) + 1
		start++
	}
	return strings.Join(lines[start:], "\n")
}

// extractJSON tolerates models that wrap the object in code fences or
// surrounding prose.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}

func normalize(rec *Record, profile types.CustomerProfile) {
	switch rec.IntentAndQualification.InterestedInLoan {
	case InterestYes, InterestNo, InterestMaybe:
	default:
		rec.IntentAndQualification.InterestedInLoan = InterestMaybe
	}
	switch rec.FinancialInformation.MonthlyIncomeBracket {
	case IncomeBelow25k, Income25kTo50k, Income50kTo1L, IncomeAbove1L, IncomeUnknown:
	default:
		rec.FinancialInformation.MonthlyIncomeBracket = IncomeUnknown
	}
	if rec.CustomerProfile.Name == "" {
		rec.CustomerProfile.Name = profile.CustomerName
	}
	if rec.CustomerProfile.Phone == "" {
		rec.CustomerProfile.Phone = profile.PhoneNumber
	}
}
