package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kalashk/voice-agent-sub000/pkg/core"
)

// TrunkAPI is the carrier surface the pool provisions against.
type TrunkAPI interface {
	FindTrunk(ctx context.Context, name string) (string, error)
	CreateTrunk(ctx context.Context, cfg TrunkConfig) (string, error)
}

const ensureTrunkAttempts = 3

// TrunkPool resolves trunk names to trunk ids, creating trunks on first
// use. It is safe for concurrent campaigns; at most one creation request
// races per name.
type TrunkPool struct {
	mu     sync.Mutex
	api    TrunkAPI
	logger *slog.Logger
	trunks map[string]string
}

// NewTrunkPool builds a pool over the given carrier API.
func NewTrunkPool(api TrunkAPI, logger *slog.Logger) *TrunkPool {
	return &TrunkPool{
		api:    api,
		logger: logger,
		trunks: make(map[string]string),
	}
}

// EnsureTrunk returns the trunk id for cfg.Name, creating the trunk when
// the carrier has none. Lookups and creations are retried on transient
// transport errors. Calling it twice returns the same id.
func (p *TrunkPool) EnsureTrunk(ctx context.Context, cfg TrunkConfig) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.trunks[cfg.Name]; ok {
		return id, nil
	}

	var id string
	op := func() error {
		found, err := p.api.FindTrunk(ctx, cfg.Name)
		if err != nil {
			return err
		}
		if found != "" {
			id = found
			return nil
		}
		created, err := p.api.CreateTrunk(ctx, cfg)
		if err != nil {
			return err
		}
		id = created
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), ensureTrunkAttempts-1), ctx)

	notify := func(err error, wait time.Duration) {
		p.logger.Warn("trunk provisioning retry", "trunk", cfg.Name, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", fmt.Errorf("ensure trunk %q: %w", cfg.Name, core.NewTransportError("telephony", err))
	}

	p.trunks[cfg.Name] = id
	p.logger.Info("trunk ready", "trunk", cfg.Name, "trunk_id", id)
	return id, nil
}
