// Package config loads campaign runtime configuration from the
// environment and supporting files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/recorder"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

// Config is the resolved runtime configuration for the calling agent.
type Config struct {
	// Providers selects the STT, LLM, and TTS back-ends by name.
	Providers types.ProviderSelection

	// Model is the conversation LLM in "provider/model" form.
	Model string

	// SummaryModel is the post-call summary LLM in "provider/model" form.
	SummaryModel string

	// Voice is the TTS voice or speaker identifier, when the provider
	// selector does not already carry one.
	Voice string

	// PromptFile is the path to the system prompt template.
	PromptFile string

	// CustomersFile is the path to the JSON array of customers to call.
	CustomersFile string

	// RatesDir holds the pricing tables (llm_rates.json etc).
	RatesDir string

	// LogDir is where per-session logs are written.
	LogDir string

	// MediaAddr is the listen address for the room media websocket
	// endpoint and the metrics handler.
	MediaAddr string

	// MediaPublicHost is the externally reachable host for media URLs
	// handed to the telephony provider.
	MediaPublicHost string

	Twilio telephony.TwilioConfig
	Trunk  telephony.TrunkConfig

	// MaxConcurrent bounds simultaneously active calls.
	MaxConcurrent int64

	// DelayBetweenStarts paces successive dial attempts.
	DelayBetweenStarts time.Duration

	// AnswerWait bounds how long a dial waits for the callee to pick up.
	AnswerWait time.Duration

	// RecordCalls enables composite call recording.
	RecordCalls bool

	// Supabase is the recording object store. When URL is empty,
	// recordings fall back to RecordingsDir on local disk.
	Supabase recorder.SupabaseConfig

	// RecordingsDir is the local recording fallback directory.
	RecordingsDir string
}

// LoadFromEnv reads configuration from environment variables, applying
// defaults for everything optional.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Providers: types.ProviderSelection{
			STT: envOr("STT_PROVIDER", "deepgram"),
			LLM: envOr("LLM_PROVIDER", "openai"),
			TTS: envOr("TTS_PROVIDER", "cartesia"),
		},
		Model:           envOr("LLM_MODEL", "openai/gpt-4o-mini"),
		SummaryModel:    envOr("SUMMARY_MODEL", "openai/gpt-4o-mini"),
		Voice:           os.Getenv("TTS_VOICE"),
		PromptFile:      envOr("PROMPT_FILE", "configs/prompt.txt"),
		CustomersFile:   envOr("CUSTOMERS_FILE", "configs/customers.json"),
		RatesDir:        envOr("RATES_DIR", "configs"),
		LogDir:          envOr("SESSION_LOG_DIR", "logs"),
		MediaAddr:       envOr("MEDIA_ADDR", ":8085"),
		MediaPublicHost: os.Getenv("MEDIA_PUBLIC_HOST"),
		Twilio: telephony.TwilioConfig{
			AccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		},
		Trunk: telephony.TrunkConfig{
			Name:         envOr("TRUNK_NAME", "outbound-agent"),
			Address:      os.Getenv("TRUNK_ADDRESS"),
			CallerNumber: os.Getenv("TRUNK_CALLER_NUMBER"),
			Username:     os.Getenv("TRUNK_USERNAME"),
			Password:     os.Getenv("TRUNK_PASSWORD"),
		},
		MaxConcurrent:      int64(envIntOr("MAX_CONCURRENT", 3)),
		DelayBetweenStarts: envDurationOr("DELAY_BETWEEN_STARTS", 2*time.Second),
		AnswerWait:         envDurationOr("ANSWER_WAIT", telephony.DefaultAnswerWait),
		RecordCalls:        envBoolOr("RECORD_CALLS", false),
		Supabase: recorder.SupabaseConfig{
			URL:            os.Getenv("SUPABASE_URL"),
			ServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
			Bucket:         envOr("SUPABASE_BUCKET", "call-recordings"),
		},
		RecordingsDir: envOr("RECORDINGS_DIR", "recordings"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required"))
	}
	if c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required"))
	}
	if c.Trunk.Address == "" {
		errs = append(errs, errors.New("TRUNK_ADDRESS is required"))
	}
	if c.Trunk.CallerNumber == "" {
		errs = append(errs, errors.New("TRUNK_CALLER_NUMBER is required"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT must be positive, got %d", c.MaxConcurrent))
	}
	if !strings.Contains(c.Model, "/") {
		errs = append(errs, fmt.Errorf("LLM_MODEL %q must be 'provider/model'", c.Model))
	}
	if !strings.Contains(c.SummaryModel, "/") {
		errs = append(errs, fmt.Errorf("SUMMARY_MODEL %q must be 'provider/model'", c.SummaryModel))
	}
	return errors.Join(errs...)
}

// LoadCustomers reads the customer list for a campaign run.
func LoadCustomers(path string) ([]types.CustomerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read customers: %w", err)
	}
	var customers []types.CustomerProfile
	if err := json.Unmarshal(data, &customers); err != nil {
		return nil, fmt.Errorf("parse customers %s: %w", path, err)
	}
	if len(customers) == 0 {
		return nil, fmt.Errorf("customers file %s is empty", path)
	}
	for i, c := range customers {
		if c.PhoneNumber == "" {
			return nil, fmt.Errorf("customer %d (%s) has no phone number", i, c.CustomerName)
		}
	}
	return customers, nil
}

// LoadPrompt reads the system prompt template.
func LoadPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("prompt file %s is empty", path)
	}
	return string(data), nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
