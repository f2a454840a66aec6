package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Inbox watches a single directory for record files. It uses fsnotify and
// falls back to polling when fsnotify is unavailable or ForcePolling is set.
// Sub-directories and non-record files are ignored.
type Inbox struct {
	opts   Options
	logger *slog.Logger

	fsWatcher *fsnotify.Watcher
	poll      *poller
	debouncer *Debouncer

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	mu             sync.RWMutex
	dir            string
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewInbox creates an inbox watcher. Nothing is watched until Start.
func NewInbox(opts Options, logger *slog.Logger) (*Inbox, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	w := &Inbox{
		opts:      opts,
		logger:    logger,
		debouncer: newDebouncer(opts.DebounceWindow, opts.EventBufferSize, logger),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
		} else {
			logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Inbox) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Dir returns the watched directory once Start has resolved it.
func (w *Inbox) Dir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dir
}

// Start watches dir until Stop is called or ctx is done. It blocks; run it
// on its own goroutine.
func (w *Inbox) Start(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve inbox path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat inbox: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox %s is not a directory", abs)
	}

	w.mu.Lock()
	w.dir = abs
	w.mu.Unlock()

	go w.forwardDebounced(ctx)

	w.logger.Info("inbox_watch_started", slog.String("dir", abs), slog.String("mode", w.Mode()))
	if w.fsWatcher != nil {
		return w.runFsnotify(ctx, abs)
	}
	return w.runPolling(ctx, abs)
}

func (w *Inbox) runFsnotify(ctx context.Context, dir string) error {
	if err := w.fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(dir, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Inbox) handleFsnotifyEvent(dir string, event fsnotify.Event) {
	if filepath.Dir(event.Name) != dir || !IsRecordFile(event.Name) {
		return
	}

	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}

	if op == OpCreate || op == OpModify {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return
		}
	}

	w.debouncer.Add(FileEvent{
		Path:      filepath.Base(event.Name),
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (w *Inbox) runPolling(ctx context.Context, dir string) error {
	w.poll = newPoller(dir)
	if err := w.poll.baseline(); err != nil {
		return err
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case now := <-ticker.C:
			events, err := w.poll.changes(now)
			if err != nil {
				w.emitError(err)
				continue
			}
			for _, e := range events {
				w.debouncer.Add(e)
			}
		}
	}
}

func (w *Inbox) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) > 0 {
				w.emitEvents(events)
			}
		}
	}
}

// emitEvents holds the read lock across the send so Stop cannot close the
// channel underneath it.
func (w *Inbox) emitEvents(events []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		w.logger.Warn("inbox_batch_dropped",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (w *Inbox) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// DroppedBatches returns the number of batches dropped because the consumer
// fell behind.
func (w *Inbox) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Events returns debounced batches of inbox changes. Closed by Stop.
func (w *Inbox) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors. Closed by Stop.
func (w *Inbox) Errors() <-chan error {
	return w.errors
}

// Stop stops watching and closes the channels. Safe to call multiple times.
func (w *Inbox) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()

	var err error
	if w.fsWatcher != nil {
		err = w.fsWatcher.Close()
	}
	close(w.events)
	close(w.errors)
	return err
}
