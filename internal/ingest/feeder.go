// Package ingest feeds JSONL record files into an index service.
//
// Each line is either a bare record, which is added (upserted), or an
// envelope {"op":"add"|"remove","record":{...}}. Consecutive lines with the
// same op are sent as one batch of at most BatchSize records, so the order
// of adds and removes in a file is preserved. Files may be gzip or zstd
// compressed.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/schema"
	"github.com/Aman-CERP/recyclix/internal/watcher"
)

// Defaults.
const (
	DefaultBatchSize = 500
	DefaultWorkers   = 2
)

// Sink receives record batches. *index.Service[schema.Record] implements it.
type Sink interface {
	Add(ctx context.Context, records []schema.Record) error
	Remove(ctx context.Context, records []schema.Record) error
}

// Options configures a Feeder.
type Options struct {
	// BatchSize is the maximum number of records per service call.
	BatchSize int

	// RateLimit caps records per second across all files. 0 disables it.
	RateLimit float64

	// Workers is the number of files ingested concurrently.
	Workers int

	// Watch configures the inbox watcher used by Watch.
	Watch watcher.Options

	Logger *slog.Logger
}

// Result describes one ingested file.
type Result struct {
	File     string        `json:"file"`
	Lines    int           `json:"lines"`
	Added    int           `json:"added"`
	Removed  int           `json:"removed"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Stats are cumulative feeder counters.
type Stats struct {
	Files       uint64 `json:"files"`
	FailedFiles uint64 `json:"failed_files"`
	Added       uint64 `json:"added"`
	Removed     uint64 `json:"removed"`
}

// Feeder reads record files and writes them through a Sink.
type Feeder struct {
	sink    Sink
	opts    Options
	logger  *slog.Logger
	limiter *rate.Limiter
	workers *semaphore.Weighted

	files, failed, added, removed atomic.Uint64
}

// NewFeeder returns a feeder writing to sink.
func NewFeeder(sink Sink, opts Options) (*Feeder, error) {
	if sink == nil {
		return nil, ierrors.ValidationError("ingest sink is required", nil)
	}
	if opts.BatchSize < 0 || opts.Workers < 0 || opts.RateLimit < 0 || math.IsNaN(opts.RateLimit) {
		return nil, ierrors.ConfigError("ingest options must not be negative", nil)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers == 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	f := &Feeder{
		sink:    sink,
		opts:    opts,
		logger:  opts.Logger,
		workers: semaphore.NewWeighted(int64(opts.Workers)),
	}
	if opts.RateLimit > 0 {
		// A full batch must fit in the bucket or WaitN would always fail.
		burst := max(opts.BatchSize, int(math.Ceil(opts.RateLimit)))
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return f, nil
}

// Stats returns the cumulative counters.
func (f *Feeder) Stats() Stats {
	return Stats{
		Files:       f.files.Load(),
		FailedFiles: f.failed.Load(),
		Added:       f.added.Load(),
		Removed:     f.removed.Load(),
	}
}

// IngestFiles ingests paths with at most Workers files in flight. Every
// file is attempted; the returned error joins the per-file failures.
func (f *Feeder) IngestFiles(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, len(paths))
	var g errgroup.Group
	for i, path := range paths {
		if err := f.workers.Acquire(ctx, 1); err != nil {
			for j := i; j < len(paths); j++ {
				results[j] = Result{File: paths[j], Err: err}
			}
			break
		}
		g.Go(func() error {
			defer f.workers.Release(1)
			results[i], _ = f.IngestFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.File, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// IngestFile ingests one file. Batches sent before a failure stay applied;
// adds are upserts, so re-ingesting a corrected file is safe.
func (f *Feeder) IngestFile(ctx context.Context, path string) (Result, error) {
	return f.record(path, func(res *Result) error {
		r, err := openRecords(path)
		if err != nil {
			return err
		}
		defer func() { _ = r.Close() }()
		return f.ingest(ctx, r, res)
	})
}

// IngestReader ingests uncompressed JSONL from r, reported under name.
func (f *Feeder) IngestReader(ctx context.Context, name string, r io.Reader) (Result, error) {
	return f.record(name, func(res *Result) error {
		return f.ingest(ctx, r, res)
	})
}

// record runs one ingest and folds its result into the feeder stats.
func (f *Feeder) record(name string, run func(*Result) error) (Result, error) {
	start := time.Now()
	res := Result{File: name}
	res.Err = run(&res)
	res.Duration = time.Since(start)

	f.files.Add(1)
	f.added.Add(uint64(res.Added))
	f.removed.Add(uint64(res.Removed))

	attrs := []any{
		slog.String("file", filepath.Base(name)),
		slog.Int("lines", res.Lines),
		slog.Int("added", res.Added),
		slog.Int("removed", res.Removed),
		slog.Int("batches", res.Batches),
		slog.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		f.failed.Add(1)
		f.logger.Error("ingest_file_failed", append(attrs, ierrors.LogAttrs(res.Err)...)...)
	} else {
		f.logger.Info("ingest_file_done", attrs...)
	}
	return res, res.Err
}

func (f *Feeder) ingest(ctx context.Context, r io.Reader, res *Result) error {
	var (
		batch []schema.Record
		op    Op
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := f.send(ctx, op, batch); err != nil {
			return err
		}
		res.Batches++
		if op == OpRemove {
			res.Removed += len(batch)
		} else {
			res.Added += len(batch)
		}
		batch = nil
		return nil
	}

	lines := newLineScanner(r)
	for lines.Scan() {
		line := lines.Line()
		res.Lines++
		if line.Op != op || len(batch) >= f.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
			op = line.Op
		}
		batch = append(batch, line.Record)
	}
	if err := lines.Err(); err != nil {
		return err
	}
	return flush()
}

func (f *Feeder) send(ctx context.Context, op Op, batch []schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.limiter != nil {
		if err := f.limiter.WaitN(ctx, len(batch)); err != nil {
			return err
		}
	}
	if op == OpRemove {
		return f.sink.Remove(ctx, batch)
	}
	return f.sink.Add(ctx, batch)
}
