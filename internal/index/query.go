package index

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/query"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// cacheKey identifies a result set. The generation changes on every reader
// reload, so a cached entry never outlives the snapshot it came from.
type cacheKey struct {
	generation uint64
	predicate  string
	limit      int
}

// QueryExecutor runs predicates against reader snapshots. It never touches
// the writer slot.
type QueryExecutor[R any] struct {
	name     string
	reader   engine.Reader
	mapper   schema.Mapper[R]
	cache    *lru.Cache[cacheKey, []R]
	observer Observer
}

// NewQueryExecutor returns an executor. cacheSize <= 0 disables caching.
func NewQueryExecutor[R any](name string, reader engine.Reader, mapper schema.Mapper[R], cacheSize int, observer Observer) (*QueryExecutor[R], error) {
	if observer == nil {
		observer = NopObserver{}
	}
	q := &QueryExecutor[R]{name: name, reader: reader, mapper: mapper, observer: observer}
	if cacheSize > 0 {
		cache, err := lru.New[cacheKey, []R](cacheSize)
		if err != nil {
			return nil, ierrors.ConfigError("failed to create query cache", err)
		}
		q.cache = cache
	}
	return q, nil
}

// Query returns at most maxResults records matching pred, best score first.
func (q *QueryExecutor[R]) Query(ctx context.Context, pred query.Query, maxResults int) ([]R, error) {
	start := time.Now()
	event := QueryEvent{Index: q.name, Limit: maxResults}

	results, cached, err := q.run(ctx, pred, maxResults, &event)

	event.Results = len(results)
	event.Cached = cached
	event.Duration = time.Since(start)
	event.Err = err
	q.observer.QueryFinished(event)
	return results, err
}

func (q *QueryExecutor[R]) run(ctx context.Context, pred query.Query, maxResults int, event *QueryEvent) ([]R, bool, error) {
	if pred == nil {
		return nil, false, ierrors.ValidationError("query predicate is nil", nil)
	}
	if maxResults <= 0 {
		return []R{}, false, nil
	}

	encoded, encErr := json.Marshal(pred)
	if encErr == nil {
		event.Query = string(encoded)
	}

	snap, err := q.reader.Snapshot(ctx)
	if err != nil {
		return nil, false, ierrors.New(ierrors.ErrCodeQueryFailed, "failed to obtain reader snapshot", err)
	}
	defer func() { _ = snap.Close() }()

	var key cacheKey
	useCache := q.cache != nil && encErr == nil
	if useCache {
		key = cacheKey{generation: snap.Generation(), predicate: string(encoded), limit: maxResults}
		if hit, ok := q.cache.Get(key); ok {
			return slices.Clone(hit), true, nil
		}
	}

	hits, err := snap.Search(ctx, pred, maxResults)
	if err != nil {
		return nil, false, ierrors.New(ierrors.ErrCodeQueryFailed, "search failed", err)
	}

	results := make([]R, 0, len(hits))
	for _, h := range hits {
		doc, err := snap.Fetch(h.Address)
		if err != nil {
			return nil, false, ierrors.New(ierrors.ErrCodeFetchFailed, "failed to fetch matched document", err).
				WithDetail("address", h.Address)
		}
		rec, err := q.mapper.Decode(doc, h.Score)
		if err != nil {
			return nil, false, ierrors.New(ierrors.ErrCodeFetchFailed, "failed to decode matched document", err).
				WithDetail("address", h.Address)
		}
		results = append(results, rec)
	}

	if useCache {
		q.cache.Add(key, slices.Clone(results))
	}
	return results, false, nil
}

// Purge drops all cached results.
func (q *QueryExecutor[R]) Purge() {
	if q.cache != nil {
		q.cache.Purge()
	}
}
