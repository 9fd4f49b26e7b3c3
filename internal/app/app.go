// Package app wires the calling agent: providers, telephony, media,
// recording, and the campaign orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalashk/voice-agent-sub000/internal/config"
	"github.com/kalashk/voice-agent-sub000/pkg/campaign"
	"github.com/kalashk/voice-agent-sub000/pkg/core"
	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/live"
	"github.com/kalashk/voice-agent-sub000/pkg/core/providers/gemini"
	"github.com/kalashk/voice-agent-sub000/pkg/core/providers/groq"
	"github.com/kalashk/voice-agent-sub000/pkg/core/providers/openai"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/stt"
	"github.com/kalashk/voice-agent-sub000/pkg/core/voice/tts"
	"github.com/kalashk/voice-agent-sub000/pkg/recorder"
	"github.com/kalashk/voice-agent-sub000/pkg/summary"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

// App holds everything a campaign or single-call run needs.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Engine       *core.Engine
	Pool         *telephony.TrunkPool
	Dialer       *telephony.Dialer
	Media        *telephony.MediaServer
	Metrics      *campaign.Metrics
	Runner       *campaign.Runner
	Orchestrator *campaign.Orchestrator
}

// New builds the full call stack from configuration. It fails fast on
// missing provider keys or unreadable supporting files.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	engine := core.NewEngine(nil)
	engine.RegisterProvider(openai.New(engine.APIKey("openai")))
	engine.RegisterProvider(groq.New(engine.APIKey("groq")))
	engine.RegisterProvider(gemini.New(engine.APIKey("gemini")))

	sttProvider, err := stt.NewProvider(cfg.Providers.STT, engine.APIKey(sttKeyName(cfg.Providers.STT)))
	if err != nil {
		return nil, err
	}
	ttsProvider, err := tts.NewProvider(cfg.Providers.TTS, engine.APIKey(ttsKeyName(cfg.Providers.TTS)))
	if err != nil {
		return nil, err
	}

	tables, err := costs.LoadTables(cfg.RatesDir)
	if err != nil {
		return nil, fmt.Errorf("load rate tables: %w", err)
	}
	calc := costs.NewCalculator(tables)

	promptTemplate, err := config.LoadPrompt(cfg.PromptFile)
	if err != nil {
		return nil, err
	}

	twilioAPI := telephony.NewTwilioAPI(cfg.Twilio)
	pool := telephony.NewTrunkPool(twilioAPI, logger)
	dialer := telephony.NewDialer(twilioAPI, logger)
	media := telephony.NewMediaServer()
	campaignMetrics := campaign.NewMetrics("campaign")

	sessionCfg := live.DefaultSessionConfig()
	sessionCfg.Voice = cfg.Voice

	summarizer := summary.NewGenerator(engine, logger, summary.Config{Model: cfg.SummaryModel})

	transport := func(ctx context.Context, roomName string) (campaign.AudioTransport, error) {
		return media.WaitForStream(ctx, roomName)
	}

	runnerOpts := []campaign.RunnerOption{campaign.WithSummarizer(summarizer)}
	if cfg.RecordCalls {
		factory, err := recordingFactory(cfg, dialer, logger)
		if err != nil {
			return nil, err
		}
		runnerOpts = append(runnerOpts, campaign.WithRecording(factory))
	}

	runner := campaign.NewRunner(engine, sttProvider, ttsProvider, calc, transport, logger, campaign.RunnerConfig{
		Providers:      cfg.Providers,
		Model:          cfg.Model,
		PromptTemplate: promptTemplate,
		Session:        sessionCfg,
		LogDir:         cfg.LogDir,
	}, runnerOpts...)

	orchestrator := campaign.NewOrchestrator(pool, dialer, runner, campaignMetrics, logger, campaign.Config{
		Trunk:              cfg.Trunk,
		MaxConcurrent:      cfg.MaxConcurrent,
		DelayBetweenStarts: cfg.DelayBetweenStarts,
		AnswerWait:         cfg.AnswerWait,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Pool:         pool,
		Dialer:       dialer,
		Media:        media,
		Metrics:      campaignMetrics,
		Runner:       runner,
		Orchestrator: orchestrator,
	}, nil
}

// Handler serves the room media websocket endpoint and the metrics
// endpoint on one mux.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/media/", a.Media.Handler())
	mux.Handle("/metrics", a.Metrics.Handler())
	return mux
}

func recordingFactory(cfg config.Config, watcher recorder.RoomWatcher, logger *slog.Logger) (campaign.RecordingFactory, error) {
	var store recorder.ObjectStore
	if cfg.Supabase.URL != "" {
		s, err := recorder.NewSupabaseStore(cfg.Supabase)
		if err != nil {
			return nil, fmt.Errorf("recording store: %w", err)
		}
		store = s
	} else {
		store = &recorder.LocalStore{Dir: cfg.RecordingsDir}
	}
	egress := recorder.NewTwilioEgress(recorder.TwilioEgressConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	return func(roomName, callSID string) campaign.Recording {
		return recorder.New(roomName, callSID, egress, store, logger,
			recorder.WithRoomWatcher(watcher, 0))
	}, nil
}

// sttKeyName maps an STT selector to its API key environment prefix.
func sttKeyName(selector string) string {
	return selector
}

// ttsKeyName maps a TTS selector to its API key environment prefix.
// Sarvam selectors carry the speaker suffix, which the key does not.
func ttsKeyName(selector string) string {
	switch selector {
	case "sarvam_anushka", "sarvam_manisha":
		return "sarvam"
	default:
		return selector
	}
}
