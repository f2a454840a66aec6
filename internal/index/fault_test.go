package index

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/recyclix/internal/engine"
)

var errInjected = errors.New("injected failure")

// faultPlan controls failures injected by faultyEngine. Counters are shared
// across every writer the engine hands out.
type faultPlan struct {
	commitFailures atomic.Int64 // fail this many upcoming commits
	alwaysFail     atomic.Bool  // fail every commit
	failNewWriter  atomic.Bool
	failDrain      atomic.Bool

	commits atomic.Int64 // commit attempts, failed or not
	writers atomic.Int64 // writers created
	drains  atomic.Int64
}

// faultyEngine wraps the bleve engine and injects failures per plan.
type faultyEngine struct {
	inner engine.Engine
	plan  *faultPlan
}

func newFaultyEngine() *faultyEngine {
	return &faultyEngine{inner: engine.NewBleve(nil), plan: &faultPlan{}}
}

func (e *faultyEngine) OpenOrCreate(path string, s engine.Schema) (engine.Index, error) {
	idx, err := e.inner.OpenOrCreate(path, s)
	if err != nil {
		return nil, err
	}
	return &faultyIndex{Index: idx, plan: e.plan}, nil
}

type faultyIndex struct {
	engine.Index
	plan *faultPlan
}

func (i *faultyIndex) NewWriter(bufferBytes int) (engine.Writer, error) {
	if i.plan.failNewWriter.Load() {
		return nil, errInjected
	}
	w, err := i.Index.NewWriter(bufferBytes)
	if err != nil {
		return nil, err
	}
	i.plan.writers.Add(1)
	return &faultyWriter{Writer: w, plan: i.plan}, nil
}

type faultyWriter struct {
	engine.Writer
	plan *faultPlan
}

func (w *faultyWriter) Commit() error {
	w.plan.commits.Add(1)
	if w.plan.alwaysFail.Load() {
		return errInjected
	}
	if w.plan.commitFailures.Add(-1) >= 0 {
		return errInjected
	}
	return w.Writer.Commit()
}

func (w *faultyWriter) Drain(ctx context.Context) error {
	w.plan.drains.Add(1)
	if w.plan.failDrain.Load() {
		return errInjected
	}
	return w.Writer.Drain(ctx)
}

// stubWriter is an engine-free writer for slot and recycler tests.
type stubWriter struct {
	id int

	mu       sync.Mutex
	staged   int
	commits  int
	drained  bool
	drainErr error
	block    chan struct{} // Drain waits on it when set
}

func (w *stubWriter) DeleteByTerm(engine.Term) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged++
	return nil
}

func (w *stubWriter) AddDocument(engine.Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged++
	return nil
}

func (w *stubWriter) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commits++
	w.staged = 0
	return nil
}

func (w *stubWriter) Rollback() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.staged = 0
}

func (w *stubWriter) Drain(ctx context.Context) error {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.drained = true
	return w.drainErr
}

func (w *stubWriter) Staged() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.staged
}

func (w *stubWriter) isDrained() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.drained
}

// stubFactory hands out numbered stub writers.
type stubFactory struct {
	mu      sync.Mutex
	made    []*stubWriter
	failErr error
}

func (f *stubFactory) New() (engine.Writer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	w := &stubWriter{id: len(f.made) + 1}
	f.made = append(f.made, w)
	return w, nil
}

func (f *stubFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

// recordingObserver keeps every event.
type recordingObserver struct {
	mu       sync.Mutex
	commits  []CommitEvent
	recycles []RecycleEvent
	queries  []QueryEvent
}

func (o *recordingObserver) CommitFinished(e CommitEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, e)
}

func (o *recordingObserver) RecycleFinished(e RecycleEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recycles = append(o.recycles, e)
}

func (o *recordingObserver) QueryFinished(e QueryEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, e)
}

func (o *recordingObserver) recycleEvents() []RecycleEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RecycleEvent(nil), o.recycles...)
}

func (o *recordingObserver) queryEvents() []QueryEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]QueryEvent(nil), o.queries...)
}
