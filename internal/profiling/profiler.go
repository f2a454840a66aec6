// Package profiling captures CPU, heap and execution-trace profiles around
// a CLI command, for measuring what writer recycling gives back.
package profiling

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options names the profile files to write. Empty paths are skipped.
type Options struct {
	CPUProfile  string
	HeapProfile string
	Trace       string
}

// Enabled reports whether any profile is requested.
func (o Options) Enabled() bool {
	return o.CPUProfile != "" || o.HeapProfile != "" || o.Trace != ""
}

// Session is a running set of profiles. Stop must be called once.
type Session struct {
	opts   Options
	logger *slog.Logger
	stops  []func()
}

// Start starts the CPU profile and trace requested by opts. The heap
// profile is written by Stop.
func Start(opts Options, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{opts: opts, logger: logger}

	if opts.CPUProfile != "" {
		stop, err := startCPU(opts.CPUProfile)
		if err != nil {
			return nil, err
		}
		s.stops = append(s.stops, stop)
	}
	if opts.Trace != "" {
		stop, err := startTrace(opts.Trace)
		if err != nil {
			s.stopAll()
			return nil, err
		}
		s.stops = append(s.stops, stop)
	}
	return s, nil
}

// Stop stops running profiles, then writes the heap profile and logs heap
// usage.
func (s *Session) Stop() error {
	s.stopAll()

	var errs []error
	if s.opts.HeapProfile != "" {
		errs = append(errs, WriteHeap(s.opts.HeapProfile))
	}

	m := MemStats()
	s.logger.Info("profile_written",
		slog.String("cpu", s.opts.CPUProfile),
		slog.String("heap", s.opts.HeapProfile),
		slog.String("trace", s.opts.Trace),
		slog.Uint64("heap_inuse_bytes", m.HeapInuse),
		slog.Uint64("heap_released_bytes", m.HeapReleased),
		slog.Uint64("num_gc", uint64(m.NumGC)))
	return errors.Join(errs...)
}

func (s *Session) stopAll() {
	for i := len(s.stops) - 1; i >= 0; i-- {
		s.stops[i]()
	}
	s.stops = nil
}

func startCPU(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}

	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

func startTrace(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start trace: %w", err)
	}

	return func() {
		trace.Stop()
		_ = f.Close()
	}, nil
}

// WriteHeap writes a heap profile to path after a GC, so it shows live
// objects only.
func WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create heap profile file: %w", err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()

	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

// MemStats returns current memory statistics.
func MemStats() runtime.MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m
}
