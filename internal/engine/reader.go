package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/collector"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
)

// pointInTime is a refcounted bleve reader. The owning bleveReader holds one
// reference while it is current; every open Snapshot holds another.
type pointInTime struct {
	reader     index.IndexReader
	generation uint64
	refs       int
}

type bleveReader struct {
	index  *BleveIndex
	policy ReloadPolicy
	delay  time.Duration

	// reloadMu orders whole reloads so an older view never replaces a
	// newer one.
	reloadMu sync.Mutex

	mu          sync.Mutex
	current     *pointInTime
	generation  uint64
	timer       *time.Timer
	closed      bool
	unsubscribe func()
}

// Snapshot returns the current point-in-time view.
func (r *bleveReader) Snapshot(_ context.Context) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrReaderClosed
	}
	r.current.refs++
	return &bleveSnapshot{owner: r, pit: r.current}, nil
}

// Reload swaps in a reader positioned at the latest commit.
func (r *bleveReader) Reload(_ context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	reader, err := r.index.pointInTime()
	if err != nil {
		return fmt.Errorf("open point-in-time reader: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return reader.Close()
	}
	r.generation++
	old := r.current
	r.current = &pointInTime{reader: reader, generation: r.generation, refs: 1}
	r.mu.Unlock()

	if old != nil {
		r.release(old)
	}
	return nil
}

func (r *bleveReader) onCommit() {
	if r.policy == ReloadOnCommit {
		r.reloadLogged()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.timer != nil {
		return
	}
	r.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		r.timer = nil
		r.mu.Unlock()
		r.reloadLogged()
	})
}

func (r *bleveReader) reloadLogged() {
	if err := r.Reload(context.Background()); err != nil {
		r.index.logger.Error("reader_reload_failed",
			slog.String("path", r.index.path),
			slog.String("error", err.Error()))
	}
}

func (r *bleveReader) release(pit *pointInTime) {
	r.mu.Lock()
	pit.refs--
	done := pit.refs == 0
	r.mu.Unlock()

	if done {
		if err := pit.reader.Close(); err != nil {
			r.index.logger.Warn("reader_close_failed", slog.String("error", err.Error()))
		}
	}
}

// Close stops reloading and releases the current view. Open snapshots stay
// usable until they are closed.
func (r *bleveReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	current := r.current
	unsubscribe := r.unsubscribe
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if current != nil {
		r.release(current)
	}
	return nil
}

type bleveSnapshot struct {
	owner *bleveReader
	pit   *pointInTime
	once  sync.Once
}

func (s *bleveSnapshot) Generation() uint64 {
	return s.pit.generation
}

// Search returns up to limit hits ordered by descending score. Ties keep
// the engine's document order.
func (s *bleveSnapshot) Search(ctx context.Context, pred query.Query, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	searcher, err := pred.Searcher(ctx, s.pit.reader, s.owner.index.idx.Mapping(), search.SearcherOptions{})
	if err != nil {
		return nil, fmt.Errorf("build searcher: %w", err)
	}
	defer func() { _ = searcher.Close() }()

	coll := collector.NewTopNCollector(limit, 0, search.SortOrder{&search.SortScore{Desc: true}})
	if err := coll.Collect(ctx, searcher, s.pit.reader); err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	matches := coll.Results()
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{Score: m.Score, Address: m.ID})
	}
	return hits, nil
}

// Fetch loads the stored fields of the document at address.
func (s *bleveSnapshot) Fetch(address string) (Document, error) {
	doc, err := s.pit.reader.Document(address)
	if err != nil {
		return Document{}, fmt.Errorf("load document %s: %w", address, err)
	}
	if doc == nil {
		return Document{}, fmt.Errorf("document %s: %w", address, ErrNotFound)
	}

	out := Document{ID: address, Fields: make(map[string]any)}
	var decodeErr error
	doc.VisitFields(func(f index.Field) {
		name := f.Name()
		if name == "_id" || decodeErr != nil {
			return
		}
		v, err := storedValue(f)
		if err != nil {
			decodeErr = fmt.Errorf("field %s: %w", name, err)
			return
		}
		if prev, ok := out.Fields[name]; ok {
			if list, isList := prev.([]any); isList {
				out.Fields[name] = append(list, v)
			} else {
				out.Fields[name] = []any{prev, v}
			}
			return
		}
		out.Fields[name] = v
	})
	if decodeErr != nil {
		return Document{}, decodeErr
	}

	// Stored numbers are float64; the document ID carries the exact key.
	schema := s.owner.index.schema
	if pk, ok := schema.Field(schema.PrimaryKey); ok && pk.Kind == KindNumeric {
		if key, ok := ExactInteger(address); ok {
			out.Fields[pk.Name] = key
		}
	}
	return out, nil
}

func (s *bleveSnapshot) Close() error {
	s.once.Do(func() { s.owner.release(s.pit) })
	return nil
}

// Stored field accessors of bleve's document package.
type (
	textField     interface{ Text() string }
	numericField  interface{ Number() (float64, error) }
	booleanField  interface{ Boolean() (bool, error) }
	dateTimeField interface {
		DateTime() (time.Time, string, error)
	}
	legacyDateTimeField interface {
		DateTime() (time.Time, error)
	}
)

func storedValue(f index.Field) (any, error) {
	switch v := f.(type) {
	case numericField:
		return v.Number()
	case booleanField:
		return v.Boolean()
	case dateTimeField:
		t, _, err := v.DateTime()
		return t, err
	case legacyDateTimeField:
		return v.DateTime()
	case textField:
		return v.Text(), nil
	default:
		return string(f.Value()), nil
	}
}

var (
	_ Reader   = (*bleveReader)(nil)
	_ Snapshot = (*bleveSnapshot)(nil)
)
