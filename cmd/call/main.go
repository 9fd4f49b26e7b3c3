// Command call places a single outbound call and runs the voice agent
// on it. Useful for trying a prompt or provider combination without a
// full customer list.
package main

import (
	"context"
	"errors"
	"flag"
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
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
)

func parseCustomer(args []string, stderr io.Writer) (types.CustomerProfile, error) {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.SetOutput(stderr)
	phone := fs.String("phone", "", "callee phone number (required)")
	name := fs.String("name", "", "customer name")
	city := fs.String("city", "", "customer city")
	language := fs.String("language", "", "conversation language code")
	bank := fs.String("bank", "", "bank name used in the pitch")
	age := fs.Int("age", 0, "customer age")
	gender := fs.String("gender", "", "customer gender")
	if err := fs.Parse(args); err != nil {
		return types.CustomerProfile{}, err
	}
	if *phone == "" {
		fs.Usage()
		return types.CustomerProfile{}, fmt.Errorf("-phone is required")
	}
	return types.CustomerProfile{
		CustomerID:   "adhoc",
		CustomerName: *name,
		Age:          *age,
		City:         *city,
		Language:     *language,
		BankName:     *bank,
		PhoneNumber:  *phone,
		Gender:       *gender,
	}, nil
}

func runCall(ctx context.Context, logger *slog.Logger, stdout io.Writer, customer types.CustomerProfile) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.MaxConcurrent = 1

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.MediaAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("media server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("media server shutdown", "error", err)
		}
	}()

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("placing call", "phone", customer.PhoneNumber, "media_addr", cfg.MediaAddr)

	report, err := a.Orchestrator.Run(runCtx, []types.CustomerProfile{customer})
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}

	result := report.Results[0]
	switch {
	case result.Err != nil:
		return result.Err
	case !result.Answered:
		fmt.Fprintf(stdout, "%s: no answer\n", customer.PhoneNumber)
	default:
		fmt.Fprintf(stdout, "%s: %d turns in %s, cost $%.6f\n",
			customer.PhoneNumber, result.Turns, result.Duration.Round(time.Second), result.Cost.Total)
		if len(result.Summary) > 0 {
			fmt.Fprintf(stdout, "%s\n", result.Summary)
		}
	}
	return nil
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "call: %v\n", err)
		return 1
	}
	customer, err := parseCustomer(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "call: %v\n", err)
		return 2
	}
	if err := runCall(ctx, logger, stdout, customer); err != nil {
		fmt.Fprintf(stderr, "call: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
