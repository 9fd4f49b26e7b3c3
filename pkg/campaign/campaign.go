// Package campaign runs outbound calling campaigns with bounded
// concurrency and paced call starts.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

// CallResult is the outcome of one attempted call.
type CallResult struct {
	Customer types.CustomerProfile
	RoomName string
	Answered bool
	Turns    int
	Duration time.Duration
	Cost     costs.Breakdown
	Summary  json.RawMessage
	Err      error
}

// Report summarizes a finished campaign.
type Report struct {
	Attempted  int
	Answered   int
	Unanswered int
	Failed     int
	TotalCost  float64
	Results    []CallResult
}

// Dialer places and tears down calls.
type Dialer interface {
	Dial(ctx context.Context, params telephony.DialParams) (*telephony.Participant, error)
	DeleteRoom(ctx context.Context, roomName string) error
}

// SessionRunner drives the voice agent for one answered call. It returns
// when the call ends.
type SessionRunner interface {
	Run(ctx context.Context, customer types.CustomerProfile, participant *telephony.Participant) (CallResult, error)
}

// Config tunes a campaign run.
type Config struct {
	Trunk              telephony.TrunkConfig
	MaxConcurrent      int64
	DelayBetweenStarts time.Duration
	AnswerWait         time.Duration
}

// Orchestrator launches one dial per customer under a concurrency bound.
type Orchestrator struct {
	pool    *telephony.TrunkPool
	dialer  Dialer
	runner  SessionRunner
	metrics *Metrics
	logger  *slog.Logger
	config  Config
}

// NewOrchestrator wires a campaign over the given telephony and session
// layers.
func NewOrchestrator(pool *telephony.TrunkPool, dialer Dialer, runner SessionRunner, metrics *Metrics, logger *slog.Logger, config Config) *Orchestrator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Orchestrator{
		pool:    pool,
		dialer:  dialer,
		runner:  runner,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}
}

// Run attempts every customer and returns when all launched calls have
// terminated. A failed dial frees its concurrency slot immediately and is
// not retried.
func (o *Orchestrator) Run(ctx context.Context, customers []types.CustomerProfile) (*Report, error) {
	trunkID, err := o.pool.EnsureTrunk(ctx, o.config.Trunk)
	if err != nil {
		return nil, err
	}

	sem := semaphore.NewWeighted(o.config.MaxConcurrent)
	results := make([]CallResult, len(customers))
	var wg sync.WaitGroup

	for i, customer := range customers {
		if i > 0 && o.config.DelayBetweenStarts > 0 {
			select {
			case <-ctx.Done():
				wg.Wait()
				return nil, ctx.Err()
			case <-time.After(o.config.DelayBetweenStarts):
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}

		wg.Add(1)
		go func(i int, customer types.CustomerProfile) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = o.attempt(ctx, trunkID, customer)
		}(i, customer)
	}

	wg.Wait()
	return o.report(results), nil
}

func (o *Orchestrator) attempt(ctx context.Context, trunkID string, customer types.CustomerProfile) CallResult {
	roomName := fmt.Sprintf("call-%s", uuid.NewString())
	result := CallResult{Customer: customer, RoomName: roomName}

	participant, err := o.dialer.Dial(ctx, telephony.DialParams{
		TrunkID:             trunkID,
		CallerNumber:        o.config.Trunk.CallerNumber,
		CalleeNumber:        customer.PhoneNumber,
		RoomName:            roomName,
		ParticipantIdentity: customer.PhoneNumber,
		WaitUntilAnswered:   o.config.AnswerWait,
	})
	if err != nil {
		o.metrics.RecordDial("failed")
		o.logger.Error("dial failed", "customer", customer.PhoneNumber, "error", err)
		result.Err = err
		return result
	}
	if participant == nil {
		o.metrics.RecordDial("unanswered")
		o.logger.Info("no answer", "customer", customer.PhoneNumber)
		return result
	}

	o.metrics.RecordDial("answered")
	o.metrics.RecordCallStart()
	result.Answered = true
	started := time.Now()

	runResult, err := o.runner.Run(ctx, customer, participant)
	result.Turns = runResult.Turns
	result.Cost = runResult.Cost
	result.Summary = runResult.Summary
	result.Duration = time.Since(started)

	outcome := "completed"
	if err != nil {
		outcome = "errored"
		result.Err = err
		o.logger.Error("call session failed", "room", roomName, "error", err)
	}
	o.metrics.RecordCallEnd(outcome, result.Duration, result.Turns)
	o.metrics.RecordCost(result.Cost.LLM, result.Cost.STT, result.Cost.TTS)

	if err := o.dialer.DeleteRoom(ctx, roomName); err != nil {
		o.logger.Warn("room teardown failed", "room", roomName, "error", err)
	}
	return result
}

func (o *Orchestrator) report(results []CallResult) *Report {
	report := &Report{Results: results, Attempted: len(results)}
	for _, r := range results {
		switch {
		case r.Answered:
			report.Answered++
		case r.Err != nil:
			report.Failed++
		default:
			report.Unanswered++
		}
		report.TotalCost += r.Cost.Total
	}
	return report
}
