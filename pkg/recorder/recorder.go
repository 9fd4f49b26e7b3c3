package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RoomWatcher reports whether the human participant is still present.
type RoomWatcher interface {
	HumanPresent(ctx context.Context, roomName string) (bool, error)
}

// PostProcessor optionally transforms the artifact before reupload.
// It runs after the primary upload and must tolerate being skipped.
type PostProcessor func(data []byte) []byte

// Recorder manages one call's recording lifecycle: start on answer,
// stop when the human leaves or the call tears down, upload once.
type Recorder struct {
	roomName      string
	callSID       string
	egress        Egress
	store         ObjectStore
	logger        *slog.Logger
	post          PostProcessor
	watcher       RoomWatcher
	watchInterval time.Duration

	mu       sync.Mutex
	egressID string
	stopped  bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithPostProcessor installs a best-effort artifact transform.
func WithPostProcessor(p PostProcessor) Option {
	return func(r *Recorder) { r.post = p }
}

// WithRoomWatcher enables presence polling so the recording stops as soon
// as the human leaves. interval <= 0 polls every 2s.
func WithRoomWatcher(w RoomWatcher, interval time.Duration) Option {
	return func(r *Recorder) {
		r.watcher = w
		if interval <= 0 {
			interval = 2 * time.Second
		}
		r.watchInterval = interval
	}
}

// New builds a recorder for one answered call.
func New(roomName, callSID string, egress Egress, store ObjectStore, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		roomName: roomName,
		callSID:  callSID,
		egress:   egress,
		store:    store,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key is the artifact path within the store.
func (r *Recorder) Key() string {
	return fmt.Sprintf("calls/%s.mp4", r.roomName)
}

// Start begins the egress.
func (r *Recorder) Start(ctx context.Context) error {
	id, err := r.egress.Start(ctx, r.callSID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.egressID = id
	r.mu.Unlock()
	r.logger.Info("recording started", "room", r.roomName, "egress_id", id)
	return nil
}

// Watch polls the room and stops the egress as soon as the human leaves.
// It returns when the recorder stops, ctx is done, or no watcher was
// configured.
func (r *Recorder) Watch(ctx context.Context) {
	if r.watcher == nil {
		return
	}
	ticker := time.NewTicker(r.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.isStopped() {
			return
		}
		present, err := r.watcher.HumanPresent(ctx, r.roomName)
		if err != nil {
			r.logger.Warn("room watch failed", "room", r.roomName, "error", err)
			continue
		}
		if !present {
			r.logger.Info("human participant left", "room", r.roomName)
			if err := r.Stop(ctx); err != nil {
				r.logger.Warn("recording stop failed", "room", r.roomName, "error", err)
			}
			return
		}
	}
}

// Stop ends the egress, fetches the artifact, and uploads it. Calling it
// again is a no-op. Post-processing runs asynchronously and never blocks
// teardown.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped || r.egressID == "" {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	id := r.egressID
	r.mu.Unlock()

	if err := r.egress.Stop(ctx, r.callSID, id); err != nil {
		r.logger.Warn("egress stop failed", "room", r.roomName, "error", err)
	}

	data, err := r.egress.Fetch(ctx, id)
	if err != nil {
		return fmt.Errorf("recording %s: %w", r.roomName, err)
	}
	if err := r.store.Upload(ctx, r.Key(), "audio/mp4", data); err != nil {
		return fmt.Errorf("recording %s: %w", r.roomName, err)
	}
	r.logger.Info("recording uploaded", "room", r.roomName, "key", r.Key(), "bytes", len(data))

	if r.post != nil {
		go r.reprocess(data)
	}
	return nil
}

func (r *Recorder) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *Recorder) reprocess(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	processed := r.post(data)
	if len(processed) == 0 || len(processed) == len(data) {
		return
	}
	if err := r.store.Upload(ctx, r.Key(), "audio/mp4", processed); err != nil {
		r.logger.Warn("recording reupload failed", "room", r.roomName, "error", err)
	}
}
