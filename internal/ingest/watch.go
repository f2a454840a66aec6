package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/recyclix/internal/watcher"
)

// Inbox sub-directories that receive finished files.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Watch ingests record files dropped into dir until ctx is done. Files
// already present are ingested first. Each file is moved to processed/ on
// success or failed/ (next to a .error note) on failure. In-flight files
// are finished before Watch returns.
func (f *Feeder) Watch(ctx context.Context, dir string) error {
	for _, sub := range []string{dir, filepath.Join(dir, ProcessedDir), filepath.Join(dir, FailedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create inbox directory: %w", err)
		}
	}

	inbox, err := watcher.NewInbox(f.opts.Watch, f.logger)
	if err != nil {
		return err
	}

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	started := make(chan error, 1)
	go func() { started <- inbox.Start(watchCtx, dir) }()

	w := &inboxRun{feeder: f, dir: dir, inflight: make(map[string]bool)}
	defer w.wait()

	existing, err := ListRecordFiles(dir)
	if err != nil {
		_ = inbox.Stop()
		return err
	}
	for _, name := range existing {
		w.schedule(ctx, name)
	}

	for {
		select {
		case <-ctx.Done():
			_ = inbox.Stop()
			return nil
		case err := <-started:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch inbox: %w", err)
			}
			return nil
		case batch, ok := <-inbox.Events():
			if !ok {
				return nil
			}
			for _, e := range batch {
				if e.Operation == watcher.OpCreate || e.Operation == watcher.OpModify {
					w.schedule(ctx, e.Path)
				}
			}
		case err, ok := <-inbox.Errors():
			if !ok {
				return nil
			}
			f.logger.Warn("inbox_watch_error", slog.String("error", err.Error()))
		}
	}
}

// ListRecordFiles returns the record files directly inside dir, by name.
func ListRecordFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && watcher.IsRecordFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// inboxRun tracks the files of one Watch call.
type inboxRun struct {
	feeder *Feeder
	dir    string
	group  errgroup.Group

	mu       sync.Mutex
	inflight map[string]bool
}

// schedule ingests name unless it is already being ingested. Workers bound
// the concurrency together with IngestFiles calls on the same feeder.
func (w *inboxRun) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	if w.inflight[name] {
		w.mu.Unlock()
		return
	}
	w.inflight[name] = true
	w.mu.Unlock()

	w.group.Go(func() error {
		defer func() {
			w.mu.Lock()
			delete(w.inflight, name)
			w.mu.Unlock()
		}()

		if err := w.feeder.workers.Acquire(ctx, 1); err != nil {
			return nil
		}
		defer w.feeder.workers.Release(1)

		path := filepath.Join(w.dir, name)
		if _, err := os.Stat(path); err != nil {
			// Already moved by an earlier event.
			return nil
		}
		// A started file is finished even if ctx is cancelled meanwhile.
		res, err := w.feeder.IngestFile(context.WithoutCancel(ctx), path)
		w.finish(name, res, err)
		return nil
	})
}

func (w *inboxRun) finish(name string, res Result, ingestErr error) {
	sub := ProcessedDir
	if ingestErr != nil {
		sub = FailedDir
	}
	dst := uniquePath(filepath.Join(w.dir, sub, name))
	if err := os.Rename(filepath.Join(w.dir, name), dst); err != nil {
		w.feeder.logger.Error("inbox_move_failed",
			slog.String("file", name),
			slog.String("error", err.Error()))
		return
	}
	if ingestErr != nil {
		note := fmt.Sprintf("%s\nlines=%d added=%d removed=%d\n", ingestErr, res.Lines, res.Added, res.Removed)
		if err := os.WriteFile(dst+".error", []byte(note), 0o644); err != nil {
			w.feeder.logger.Warn("inbox_error_note_failed", slog.String("file", name), slog.String("error", err.Error()))
		}
	}
}

func (w *inboxRun) wait() {
	_ = w.group.Wait()
}

// uniquePath appends a timestamp when path is taken.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return fmt.Sprintf("%s.%s%s", base, time.Now().Format("20060102-150405.000000000"), ext)
}
