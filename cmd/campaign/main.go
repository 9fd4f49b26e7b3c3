// Command campaign dials every customer in the configured list and runs
// the voice agent on each answered call.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kalashk/voice-agent-sub000/internal/app"
	"github.com/kalashk/voice-agent-sub000/internal/config"
	"github.com/kalashk/voice-agent-sub000/internal/dotenv"
	"github.com/kalashk/voice-agent-sub000/pkg/campaign"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

type campaignDeps struct {
	loadConfig    func() (config.Config, error)
	loadCustomers func(path string) ([]types.CustomerProfile, error)
	newApp        func(config.Config, *slog.Logger) (*app.App, error)
	signalNotify  func(chan<- os.Signal, ...os.Signal)
	signalStop    func(chan<- os.Signal)
}

func defaultCampaignDeps() campaignDeps {
	return campaignDeps{
		loadConfig:    config.LoadFromEnv,
		loadCustomers: config.LoadCustomers,
		newApp:        app.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func runCampaign(ctx context.Context, logger *slog.Logger, stdout io.Writer, deps campaignDeps) error {
	if deps.loadConfig == nil || deps.loadCustomers == nil || deps.newApp == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	customers, err := deps.loadCustomers(cfg.CustomersFile)
	if err != nil {
		return err
	}

	a, err := deps.newApp(cfg, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.MediaAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-runCtx.Done():
		}
	}()

	logger.Info("starting campaign",
		"customers", len(customers),
		"max_concurrent", cfg.MaxConcurrent,
		"media_addr", cfg.MediaAddr)

	report, runErr := a.Orchestrator.Run(runCtx, customers)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("media server shutdown", "error", err)
	}
	if err := <-listenErrCh; err != nil {
		logger.Error("media server failed", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("campaign: %w", runErr)
	}
	printReport(stdout, report)
	return nil
}

func printReport(w io.Writer, report *campaign.Report) {
	fmt.Fprintf(w, "campaign finished: attempted=%d answered=%d unanswered=%d failed=%d total_cost=$%.6f\n",
		report.Attempted, report.Answered, report.Unanswered, report.Failed, report.TotalCost)
	for _, r := range report.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "  %s: error: %v\n", r.Customer.PhoneNumber, r.Err)
		case !r.Answered:
			fmt.Fprintf(w, "  %s: no answer\n", r.Customer.PhoneNumber)
		default:
			fmt.Fprintf(w, "  %s: %d turns in %s, cost $%.6f\n",
				r.Customer.PhoneNumber, r.Turns, r.Duration.Round(time.Second), r.Cost.Total)
		}
	}
}

func runMain(ctx context.Context, stdout, stderr io.Writer, deps campaignDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "campaign: %v\n", err)
		return 1
	}
	if err := runCampaign(ctx, logger, stdout, deps); err != nil {
		fmt.Fprintf(stderr, "campaign: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stdout, os.Stderr, defaultCampaignDeps()))
}
