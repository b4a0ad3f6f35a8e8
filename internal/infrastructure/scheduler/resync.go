package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"go.uber.org/zap"
)

// ErrInvalidInterval is returned for a non-positive resync interval
var ErrInvalidInterval = errors.New("resync interval must be positive")

// Invalidator discards cached reconciliation figures
type Invalidator interface {
	Invalidate(ctx context.Context, reason string) uint64
}

// ResyncTrigger periodically discards the reconciliation cache so every
// collection is fetched again. It bounds how long an instance can serve
// figures built before a change notification it never received.
type ResyncTrigger struct {
	interval time.Duration
	target   Invalidator
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	runs    atomic.Int64
	lastRun atomic.Int64 // unix nanos
}

// NewResyncTrigger creates a trigger invalidating target every interval
func NewResyncTrigger(interval time.Duration, target Invalidator, logger *zap.Logger) (*ResyncTrigger, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResyncTrigger{
		interval: interval,
		target:   target,
		logger:   logger,
	}, nil
}

// Start starts the trigger loop
func (r *ResyncTrigger) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = true
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runLoop(ctx)

	r.logger.Info("Resync trigger started", zap.Duration("interval", r.interval))
	return nil
}

// Stop stops the trigger loop
func (r *ResyncTrigger) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Resync trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ResyncTrigger) runLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Trigger(ctx)
		}
	}
}

// Trigger invalidates the cache now and returns the new generation
func (r *ResyncTrigger) Trigger(ctx context.Context) uint64 {
	gen := r.target.Invalidate(ctx, reconciliation.ReasonScheduled)
	r.runs.Add(1)
	r.lastRun.Store(time.Now().UnixNano())
	r.logger.Debug("Scheduled resync", zap.Uint64("generation", gen))
	return gen
}

// Stats returns how many resyncs ran and when the last one happened
func (r *ResyncTrigger) Stats() (runs int64, lastRun time.Time) {
	runs = r.runs.Load()
	if ns := r.lastRun.Load(); ns != 0 {
		lastRun = time.Unix(0, ns)
	}
	return runs, lastRun
}
