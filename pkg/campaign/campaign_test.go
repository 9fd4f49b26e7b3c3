package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalashk/voice-agent-sub000/pkg/core/costs"
	"github.com/kalashk/voice-agent-sub000/pkg/core/types"
	"github.com/kalashk/voice-agent-sub000/pkg/telephony"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticTrunkAPI struct{}

func (staticTrunkAPI) FindTrunk(context.Context, string) (string, error) {
	return "TK1", nil
}

func (staticTrunkAPI) CreateTrunk(context.Context, telephony.TrunkConfig) (string, error) {
	return "TK1", nil
}

type fakeDialer struct {
	mu      sync.Mutex
	busy    map[string]bool
	failing map[string]bool
	deleted []string
}

func (f *fakeDialer) Dial(_ context.Context, params telephony.DialParams) (*telephony.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[params.CalleeNumber] {
		return nil, errors.New("carrier unreachable")
	}
	if f.busy[params.CalleeNumber] {
		return nil, nil
	}
	return &telephony.Participant{
		CallSID:  "CA-" + params.CalleeNumber,
		Identity: params.ParticipantIdentity,
		RoomName: params.RoomName,
	}, nil
}

func (f *fakeDialer) DeleteRoom(_ context.Context, roomName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, roomName)
	return nil
}

type fakeRunner struct {
	active  atomic.Int64
	peak    atomic.Int64
	runTime time.Duration
	cost    costs.Breakdown
}

func (f *fakeRunner) Run(_ context.Context, _ types.CustomerProfile, _ *telephony.Participant) (CallResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.runTime)
	return CallResult{Turns: 3, Cost: f.cost}, nil
}

func newOrchestrator(dialer Dialer, runner SessionRunner, cfg Config) *Orchestrator {
	pool := telephony.NewTrunkPool(staticTrunkAPI{}, testLogger())
	return NewOrchestrator(pool, dialer, runner, NewMetrics("test"), testLogger(), cfg)
}

func TestCampaignBusyCustomer(t *testing.T) {
	dialer := &fakeDialer{busy: map[string]bool{"+2": true}}
	runner := &fakeRunner{cost: costs.Breakdown{LLM: 0.001, Total: 0.001}}
	o := newOrchestrator(dialer, runner, Config{MaxConcurrent: 3})

	report, err := o.Run(context.Background(), []types.CustomerProfile{
		{PhoneNumber: "+1"}, {PhoneNumber: "+2"}, {PhoneNumber: "+3"},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Attempted)
	assert.Equal(t, 2, report.Answered)
	assert.Equal(t, 1, report.Unanswered)
	assert.Equal(t, 0, report.Failed)
	assert.InDelta(t, 0.002, report.TotalCost, 1e-9)

	for _, r := range report.Results {
		if r.Customer.PhoneNumber == "+2" {
			assert.False(t, r.Answered)
			assert.Zero(t, r.Cost.Total)
		}
	}
	assert.Len(t, dialer.deleted, 2)
}

func TestCampaignDialFailureFreesSlot(t *testing.T) {
	dialer := &fakeDialer{failing: map[string]bool{"+1": true}}
	runner := &fakeRunner{}
	o := newOrchestrator(dialer, runner, Config{MaxConcurrent: 1})

	report, err := o.Run(context.Background(), []types.CustomerProfile{{PhoneNumber: "+1"}, {PhoneNumber: "+2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Answered)
}

func TestCampaignBoundsConcurrency(t *testing.T) {
	dialer := &fakeDialer{}
	runner := &fakeRunner{runTime: 20 * time.Millisecond}
	o := newOrchestrator(dialer, runner, Config{MaxConcurrent: 2})

	_, err := o.Run(context.Background(), []types.CustomerProfile{
		{PhoneNumber: "+1"}, {PhoneNumber: "+2"}, {PhoneNumber: "+3"}, {PhoneNumber: "+4"}, {PhoneNumber: "+5"},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.peak.Load(), int64(2))
}

func TestCampaignPacesStarts(t *testing.T) {
	dialer := &fakeDialer{}
	runner := &fakeRunner{}
	o := newOrchestrator(dialer, runner, Config{
		MaxConcurrent:      5,
		DelayBetweenStarts: 25 * time.Millisecond,
	})

	started := time.Now()
	_, err := o.Run(context.Background(), []types.CustomerProfile{{PhoneNumber: "+1"}, {PhoneNumber: "+2"}, {PhoneNumber: "+3"}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestCampaignContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newOrchestrator(&fakeDialer{}, &fakeRunner{}, Config{MaxConcurrent: 1, DelayBetweenStarts: time.Second})

	_, err := o.Run(ctx, []types.CustomerProfile{{PhoneNumber: "+1"}, {PhoneNumber: "+2"}})
	require.Error(t, err)
}
