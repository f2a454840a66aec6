package index

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// WriterFactory builds a fresh writer for the recycler.
type WriterFactory func() (engine.Writer, error)

// Recycler counts processed entries and replaces the slot's writer once the
// count reaches the threshold. The counter belongs to this instance.
type Recycler struct {
	name         string
	slot         *WriterSlot
	newWriter    WriterFactory
	threshold    int
	drainTimeout time.Duration
	observer     Observer
	logger       *slog.Logger

	mu       sync.Mutex
	shutdown bool
	// pending is written under mu and read lock-free by Pending.
	pending  atomic.Int64
	recycles atomic.Uint64
}

// RecyclerConfig configures a Recycler.
type RecyclerConfig struct {
	Name string
	// Threshold is the entry count that triggers a recycle. Zero or less
	// disables threshold recycling.
	Threshold    int
	DrainTimeout time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// NewRecycler returns a recycler for slot.
func NewRecycler(slot *WriterSlot, newWriter WriterFactory, cfg RecyclerConfig) *Recycler {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Recycler{
		name:         cfg.Name,
		slot:         slot,
		newWriter:    newWriter,
		threshold:    cfg.Threshold,
		drainTimeout: cfg.DrainTimeout,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
	}
}

// Register adds n processed entries. When the total reaches the threshold
// the counter resets and the writer is recycled before Register returns.
// The mutex is held throughout, so concurrent callers crossing the
// threshold together cause a single recycle. The counter has already been
// reset at that point, so the recycle ignores ctx cancellation.
func (r *Recycler) Register(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return nil
	}
	total := r.pending.Add(int64(n))
	if r.threshold <= 0 || total < int64(r.threshold) {
		return nil
	}
	r.pending.Store(0)
	return r.recycleLocked(context.WithoutCancel(ctx), "threshold", int(total))
}

// Recycle replaces the writer now and resets the counter. It also recovers
// a slot left empty by an earlier failed recycle.
func (r *Recycler) Recycle(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return ierrors.New(ierrors.ErrCodeClosed, "index is closed", nil)
	}
	entries := r.pending.Swap(0)
	return r.recycleLocked(ctx, "manual", int(entries))
}

func (r *Recycler) recycleLocked(ctx context.Context, reason string, entries int) error {
	start := time.Now()

	err := r.replace(ctx)
	elapsed := time.Since(start)

	r.observer.RecycleFinished(RecycleEvent{
		Index:    r.name,
		Reason:   reason,
		Duration: elapsed,
		Err:      err,
	})

	if err != nil {
		r.logger.Error("writer_recycle_failed",
			slog.String("index", r.name),
			slog.String("reason", reason),
			slog.String("slot", string(r.slot.State())),
			slog.String("error", err.Error()))
		return err
	}

	r.recycles.Add(1)
	r.logger.Info("writer_recycled",
		slog.String("index", r.name),
		slog.String("reason", reason),
		slog.Int("entries", entries),
		slog.Duration("duration", elapsed))
	return nil
}

// replace takes, drains and replaces the writer. Failures after Take leave
// the slot empty.
func (r *Recycler) replace(ctx context.Context) error {
	old, err := r.slot.Take(ctx)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeRecycleFailed, "recycle aborted while waiting for the writer", err).
			WithDetail("index", r.name)
	}

	if old != nil {
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.drainTimeout)
		err := old.Drain(drainCtx)
		cancel()
		if err != nil {
			return ierrors.New(ierrors.ErrCodeRecycleFailed, "failed to drain retired writer", err).
				WithDetail("index", r.name).
				WithSuggestion("writes are blocked until an explicit recycle succeeds")
		}
	}

	w, err := r.newWriter()
	if err != nil {
		return ierrors.New(ierrors.ErrCodeRecycleFailed, "failed to create replacement writer", err).
			WithDetail("index", r.name).
			WithSuggestion("writes are blocked until an explicit recycle succeeds")
	}

	if err := r.slot.Install(w); err != nil {
		_ = w.Drain(context.Background())
		return ierrors.New(ierrors.ErrCodeRecycleFailed, "failed to install replacement writer", err).
			WithDetail("index", r.name)
	}
	return nil
}

// Shutdown stops recycling, closes the slot and drains the live writer.
func (r *Recycler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return nil
	}
	r.shutdown = true
	r.slot.Close()

	w, err := r.slot.Take(ctx)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeInternal, "shutdown aborted while waiting for the writer", err)
	}
	if w == nil {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.drainTimeout)
	defer cancel()
	if err := w.Drain(drainCtx); err != nil {
		return ierrors.New(ierrors.ErrCodeInternal, "failed to drain writer on shutdown", err)
	}
	return nil
}

// Pending returns the entries registered since the last recycle.
func (r *Recycler) Pending() int {
	return int(r.pending.Load())
}

// Recycles returns the number of successful recycles.
func (r *Recycler) Recycles() uint64 {
	return r.recycles.Load()
}

// Threshold returns the configured threshold.
func (r *Recycler) Threshold() int {
	return r.threshold
}
