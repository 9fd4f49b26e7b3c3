package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// CallAPI is the carrier surface the dialer places calls through.
type CallAPI interface {
	CreateCall(ctx context.Context, params DialParams) (string, error)
	CallStatus(ctx context.Context, callSID string) (string, error)
	EndCall(ctx context.Context, callSID string) error
}

// Dialer places outbound calls and owns room teardown.
type Dialer struct {
	api      CallAPI
	logger   *slog.Logger
	pollback time.Duration

	mu    sync.Mutex
	rooms map[string]string
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithStatusPollInterval overrides how often the dialer polls call status
// while waiting for an answer.
func WithStatusPollInterval(d time.Duration) DialerOption {
	return func(dl *Dialer) { dl.pollback = d }
}

// NewDialer builds a dialer over the given carrier API.
func NewDialer(api CallAPI, logger *slog.Logger, opts ...DialerOption) *Dialer {
	d := &Dialer{
		api:      api,
		logger:   logger,
		pollback: 500 * time.Millisecond,
		rooms:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial places a call and waits until it is answered. Unanswered, busy,
// rejected, and timed-out calls return (nil, nil); only transport
// failures return an error.
func (d *Dialer) Dial(ctx context.Context, params DialParams) (*Participant, error) {
	if params.WaitUntilAnswered <= 0 {
		params.WaitUntilAnswered = DefaultAnswerWait
	}

	sid, err := d.api.CreateCall(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", params.RoomName, core.NewTransportError("telephony", err))
	}
	d.logger.Info("dialing",
		"room", params.RoomName,
		"callee", params.CalleeNumber,
		"call_sid", sid)

	deadline := time.Now().Add(params.WaitUntilAnswered)
	ticker := time.NewTicker(d.pollback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.hangup(sid)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := d.api.CallStatus(ctx, sid)
		if err != nil {
			d.hangup(sid)
			return nil, fmt.Errorf("dial %s: %w", params.RoomName, core.NewTransportError("telephony", err))
		}

		switch {
		case status == StatusInProgress:
			d.mu.Lock()
			d.rooms[params.RoomName] = sid
			d.mu.Unlock()
			d.logger.Info("call answered", "room", params.RoomName, "call_sid", sid)
			return &Participant{
				CallSID:    sid,
				Identity:   params.ParticipantIdentity,
				RoomName:   params.RoomName,
				AnsweredAt: time.Now(),
			}, nil
		case terminalStatus(status):
			d.logger.Info("call not answered", "room", params.RoomName, "status", status)
			return nil, nil
		}

		if time.Now().After(deadline) {
			d.hangup(sid)
			d.logger.Info("answer wait elapsed", "room", params.RoomName, "call_sid", sid)
			return nil, nil
		}
	}
}

// DeleteRoom ends the call associated with the room. It succeeds when the
// room is unknown or the call has already ended.
func (d *Dialer) DeleteRoom(ctx context.Context, roomName string) error {
	d.mu.Lock()
	sid, ok := d.rooms[roomName]
	delete(d.rooms, roomName)
	d.mu.Unlock()
	if !ok {
		return nil
	}

	status, err := d.api.CallStatus(ctx, sid)
	if err == nil && terminalStatus(status) {
		return nil
	}
	if err := d.api.EndCall(ctx, sid); err != nil {
		return fmt.Errorf("delete room %s: %w", roomName, core.NewTransportError("telephony", err))
	}
	d.logger.Info("room deleted", "room", roomName, "call_sid", sid)
	return nil
}

// HumanPresent reports whether the room's call is still live. Unknown
// rooms and ended calls both read as absent.
func (d *Dialer) HumanPresent(ctx context.Context, roomName string) (bool, error) {
	d.mu.Lock()
	sid, ok := d.rooms[roomName]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	status, err := d.api.CallStatus(ctx, sid)
	if err != nil {
		return false, fmt.Errorf("room %s: %w", roomName, core.NewTransportError("telephony", err))
	}
	return status == StatusInProgress, nil
}

func (d *Dialer) hangup(sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.api.EndCall(ctx, sid); err != nil {
		d.logger.Warn("hangup failed", "call_sid", sid, "error", err)
	}
}
