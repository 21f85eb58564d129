package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/slot-reservation/internal/clock"
)

// ErrReaperRunning is returned by Start when the reaper is already running.
var ErrReaperRunning = errors.New("reaper already running")

const (
	defaultReapInterval = 15 * time.Second
	defaultReapBatch    = 500
	// maxBatchesPerSweep stops one sweep from monopolizing the store when
	// holds expire faster than they can be reclaimed.
	maxBatchesPerSweep = 20
)

// Reaper periodically returns expired holds to Available.  Each slot goes
// through the Arbiter's conditional expiry, so a sweep that races a late
// Confirm or another reaper instance simply loses the write for that slot.
type Reaper struct {
	store    SlotStore
	arbiter  *Arbiter
	clock    clock.Clock
	interval time.Duration
	batch    int
	log      *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperOption customizes a Reaper.
type ReaperOption func(*Reaper)

// WithReapInterval sets the time between sweeps.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReapBatch sets the number of expired holds fetched per query.
func WithReapBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithReaperLogger sets the logger.
func WithReaperLogger(l *zap.Logger) ReaperOption {
	return func(r *Reaper) {
		if l != nil {
			r.log = l
		}
	}
}

func NewReaper(store SlotStore, arbiter *Arbiter, clk clock.Clock, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		store:    store,
		arbiter:  arbiter,
		clock:    clk,
		interval: defaultReapInterval,
		batch:    defaultReapBatch,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SweepOnce reclaims every hold expired at the time of the call and returns
// how many slots it moved back to Available.
func (r *Reaper) SweepOnce(ctx context.Context) (int, error) {
	now := r.clock.Now()
	reclaimed := 0
	for i := 0; i < maxBatchesPerSweep; i++ {
		expired, err := r.store.ListExpiredHolds(ctx, now, r.batch)
		if err != nil {
			return reclaimed, storageErr("list expired holds", err)
		}
		progress := 0
		for _, s := range expired {
			if err := ctx.Err(); err != nil {
				return reclaimed, err
			}
			ok, err := r.arbiter.expire(ctx, s, now)
			if err != nil {
				return reclaimed, err
			}
			if ok {
				reclaimed++
				progress++
			}
		}
		// A short page means the backlog is drained; a page where every write
		// lost means other writers are handling these rows.
		if len(expired) < r.batch || progress == 0 {
			break
		}
	}
	if reclaimed > 0 {
		r.log.Info("reclaimed expired holds", zap.Int("count", reclaimed))
	}
	return reclaimed, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Warn("reaper sweep failed", zap.Error(err))
	}
}

// Start runs the reaper in its own goroutine until Stop is called or ctx
// is done.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrReaperRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	r.log.Info("reaper started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	return nil
}

// Stop halts a started reaper and waits for the in-flight sweep to end.
// It is a no-op when the reaper is not running.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("reaper stopped")
}
