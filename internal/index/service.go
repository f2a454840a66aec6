package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/query"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// Service is the index facade: writes go through the writer slot and the
// commit executor, queries through reader snapshots.
type Service[R any] struct {
	name   string
	path   string
	opts   Options
	mapper schema.Mapper[R]
	logger *slog.Logger

	lock      *dirLock
	index     engine.Index
	reader    engine.Reader
	slot      *WriterSlot
	recycler  *Recycler
	committer *CommitExecutor
	queries   *QueryExecutor[R]

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Stats is a point-in-time summary of a Service.
type Stats struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Documents  uint64    `json:"documents"`
	Pending    int       `json:"pending"`
	Threshold  int       `json:"threshold"`
	Recycles   uint64    `json:"recycles"`
	Generation uint64    `json:"generation"`
	Slot       SlotState `json:"slot"`
	Closed     bool      `json:"closed"`
}

// Open opens or creates the index at path (empty for in-memory) and returns
// a ready Service. Setup failures are not retried.
func Open[R any](ctx context.Context, path string, mapper schema.Mapper[R], opts Options) (*Service[R], error) {
	if mapper == nil {
		return nil, ierrors.SchemaError("mapper is required", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	sch := mapper.Schema()
	if err := sch.Validate(); err != nil {
		return nil, ierrors.SchemaError(err.Error(), err)
	}

	lock, err := lockIndexDir(path)
	if err != nil {
		return nil, err
	}

	idx, err := opts.Engine.OpenOrCreate(path, sch)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s := &Service[R]{
		name:   sch.Name,
		path:   path,
		opts:   opts,
		mapper: mapper,
		logger: opts.Logger,
		lock:   lock,
		index:  idx,
	}
	if err := s.init(); err != nil {
		_ = idx.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s.logger.Info("index_service_opened",
		slog.String("index", s.name),
		slog.String("path", path),
		slog.Int("entries_before_recycle", opts.EntriesBeforeRecycle),
		slog.String("reload_policy", opts.ReloadPolicy.String()))
	return s, nil
}

func (s *Service[R]) init() error {
	reader, err := s.index.NewReader(engine.ReaderOptions{Policy: s.opts.ReloadPolicy, Delay: s.opts.ReloadDelay})
	if err != nil {
		return ierrors.New(ierrors.ErrCodeEngineOpen, "failed to create reader", err)
	}

	w, err := s.index.NewWriter(s.opts.BufferBytes)
	if err != nil {
		_ = reader.Close()
		return ierrors.New(ierrors.ErrCodeEngineOpen, "failed to create writer", err)
	}

	queries, err := NewQueryExecutor(s.name, reader, s.mapper, s.opts.QueryCacheSize, s.opts.Observer)
	if err != nil {
		_ = reader.Close()
		return err
	}

	s.reader = reader
	s.queries = queries
	s.slot = NewWriterSlot(w)
	s.committer = NewCommitExecutor(s.name, s.opts.CommitRetries, s.opts.RetryDelay, s.opts.Observer, s.logger)
	s.recycler = NewRecycler(s.slot, func() (engine.Writer, error) {
		return s.index.NewWriter(s.opts.BufferBytes)
	}, RecyclerConfig{
		Name:         s.name,
		Threshold:    s.opts.EntriesBeforeRecycle,
		DrainTimeout: s.opts.DrainTimeout,
		Observer:     s.opts.Observer,
		Logger:       s.logger,
	})
	return nil
}

// Name returns the schema name.
func (s *Service[R]) Name() string {
	return s.name
}

// Schema returns the index schema.
func (s *Service[R]) Schema() engine.Schema {
	return s.mapper.Schema()
}

func (s *Service[R]) closedError() error {
	return ierrors.New(ierrors.ErrCodeClosed, fmt.Sprintf("index %s is closed", s.name), nil)
}

// Add upserts records: for each one the document with the same primary key
// is deleted and the new document added, then everything is committed at
// once. On error nothing from this call is committed.
func (s *Service[R]) Add(ctx context.Context, records []R) error {
	if len(records) == 0 {
		return nil
	}

	type staged struct {
		term engine.Term
		doc  engine.Document
	}
	batch := make([]staged, 0, len(records))
	for i, r := range records {
		term, err := s.mapper.PrimaryKeyTerm(r)
		if err != nil {
			return encodeError(i, err)
		}
		doc, err := s.mapper.Encode(r)
		if err != nil {
			return encodeError(i, err)
		}
		batch = append(batch, staged{term: term, doc: doc})
	}

	return s.write(ctx, len(records), func(w engine.Writer) error {
		for _, st := range batch {
			if err := w.DeleteByTerm(st.term); err != nil {
				return stageError(err)
			}
			if err := w.AddDocument(st.doc); err != nil {
				return stageError(err)
			}
		}
		return nil
	})
}

// Remove deletes the documents with the records' primary keys.
func (s *Service[R]) Remove(ctx context.Context, records []R) error {
	if len(records) == 0 {
		return nil
	}

	terms := make([]engine.Term, 0, len(records))
	for i, r := range records {
		term, err := s.mapper.PrimaryKeyTerm(r)
		if err != nil {
			return encodeError(i, err)
		}
		terms = append(terms, term)
	}
	return s.removeTerms(ctx, terms)
}

// RemoveByKeys deletes documents by primary-key value.
func (s *Service[R]) RemoveByKeys(ctx context.Context, keys []any) error {
	if len(keys) == 0 {
		return nil
	}

	pk := s.mapper.Schema().PrimaryKey
	terms := make([]engine.Term, 0, len(keys))
	for i, k := range keys {
		if _, err := engine.KeyString(k); err != nil {
			return ierrors.ValidationError(fmt.Sprintf("key %d: %v", i, err), err)
		}
		terms = append(terms, engine.Term{Field: pk, Value: k})
	}
	return s.removeTerms(ctx, terms)
}

// RemoveByTerms deletes every committed document matching any of the terms.
// Terms may name any schema field.
func (s *Service[R]) RemoveByTerms(ctx context.Context, terms []engine.Term) error {
	if len(terms) == 0 {
		return nil
	}

	sch := s.mapper.Schema()
	for _, t := range terms {
		if _, ok := sch.Field(t.Field); !ok {
			return ierrors.ValidationError(fmt.Sprintf("unknown field %q", t.Field), nil)
		}
	}
	return s.removeTerms(ctx, terms)
}

func (s *Service[R]) removeTerms(ctx context.Context, terms []engine.Term) error {
	return s.write(ctx, len(terms), func(w engine.Writer) error {
		for _, t := range terms {
			if err := w.DeleteByTerm(t); err != nil {
				return stageError(err)
			}
		}
		return nil
	})
}

// write runs stage and commit under the writer guard, then reports n
// entries to the recycler after the guard is released. ctx only bounds the
// wait for the guard.
func (s *Service[R]) write(ctx context.Context, n int, stage func(engine.Writer) error) error {
	if s.closed.Load() {
		return s.closedError()
	}

	guard, err := s.slot.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrSlotClosed) {
			return s.closedError()
		}
		return err
	}

	w := guard.Writer()
	if err := stage(w); err != nil {
		w.Rollback()
		guard.Release()
		return err
	}
	if err := s.committer.Commit(ctx, w); err != nil {
		w.Rollback()
		guard.Release()
		return err
	}
	guard.Release()

	return s.recycler.Register(ctx, n)
}

func encodeError(i int, err error) error {
	return ierrors.New(ierrors.ErrCodeEncodeFailed, fmt.Sprintf("record %d: %v", i, err), err)
}

func stageError(err error) error {
	if errors.Is(err, engine.ErrBufferFull) {
		return ierrors.New(ierrors.ErrCodeBufferFull, err.Error(), err).
			WithSuggestion("split the batch or raise the writer buffer size")
	}
	return ierrors.New(ierrors.ErrCodeWriteFailed, err.Error(), err)
}

// Recycle replaces the writer now and resets the entry counter.
func (s *Service[R]) Recycle(ctx context.Context) error {
	if s.closed.Load() {
		return s.closedError()
	}
	return s.recycler.Recycle(ctx)
}

// Query returns at most maxResults records matching pred, best score first.
func (s *Service[R]) Query(ctx context.Context, pred query.Query, maxResults int) ([]R, error) {
	if s.closed.Load() {
		return nil, s.closedError()
	}
	return s.queries.Query(ctx, pred, maxResults)
}

// Refresh reloads the reader so every completed commit is visible.
func (s *Service[R]) Refresh(ctx context.Context) error {
	if s.closed.Load() {
		return s.closedError()
	}
	if err := s.reader.Reload(ctx); err != nil {
		return ierrors.New(ierrors.ErrCodeQueryFailed, "failed to reload reader", err)
	}
	return nil
}

// Stats returns a summary. Counts the engine cannot provide are left zero.
func (s *Service[R]) Stats() Stats {
	st := Stats{
		Name:      s.name,
		Path:      s.path,
		Pending:   s.recycler.Pending(),
		Threshold: s.recycler.Threshold(),
		Recycles:  s.recycler.Recycles(),
		Slot:      s.slot.State(),
		Closed:    s.closed.Load(),
	}
	if st.Closed {
		return st
	}

	if n, err := s.index.DocCount(); err == nil {
		st.Documents = n
	} else {
		s.logger.Debug("stats_doc_count_failed", slog.String("error", err.Error()))
	}
	if snap, err := s.reader.Snapshot(context.Background()); err == nil {
		st.Generation = snap.Generation()
		_ = snap.Close()
	}
	return st
}

// Close retires the writer, closes the reader and the index and releases
// the directory lock. It is idempotent; afterwards every operation returns
// ERR_908_CLOSED.
func (s *Service[R]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = errors.Join(
			s.recycler.Shutdown(ctx),
			s.reader.Close(),
			s.index.Close(),
			s.lock.Unlock(),
		)
		s.logger.Info("index_service_closed", slog.String("index", s.name))
	})
	return s.closeErr
}
