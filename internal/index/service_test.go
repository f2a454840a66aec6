package index

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/query"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

type note struct {
	ID    string  `index:"id,pk"`
	Body  string  `index:"body"`
	Topic string  `index:"topic,kind=keyword"`
	Rank  int     `index:"rank"`
	Score float64 `index:",score"`
}

var noteMapper = schema.MustStructMapper[note]("notes")

func openNotes(t *testing.T, configure func(*Builder[note])) *Service[note] {
	t.Helper()
	b := NewBuilder[note](noteMapper).Reload(engine.ReloadOnCommit, 0).RetryDelay(time.Millisecond)
	if configure != nil {
		configure(b)
	}
	svc, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func ids(notes []note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	sort.Strings(out)
	return out
}

func TestService_UpsertIdempotence(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	// Given: the same key added twice with different content
	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "first draft"}}))
	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "final text"}}))

	// When: querying everything
	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)

	// Then: a single document with the latest content
	require.Len(t, got, 1)
	assert.Equal(t, "final text", got[0].Body)
	assert.Equal(t, uint64(1), svc.Stats().Documents)
}

func TestService_UpsertWithinOneBatch(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "one"}, {ID: "a", Body: "two"}}))

	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Body)
}

func TestService_DeleteThenQuery(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "lamp"}, {ID: "b", Body: "lamp"}}))

	// When: removing one record
	require.NoError(t, svc.Remove(ctx, []note{{ID: "a"}}))

	// Then: it never appears again
	got, err := svc.Query(ctx, query.Match("body", "lamp"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))
}

func TestService_RemoveByKeysAndTerms(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{
		{ID: "a", Topic: "go"}, {ID: "b", Topic: "rust"}, {ID: "c", Topic: "rust"}, {ID: "d", Topic: "go"},
	}))

	require.NoError(t, svc.RemoveByKeys(ctx, []any{"a"}))
	require.NoError(t, svc.RemoveByTerms(ctx, []engine.Term{{Field: "topic", Value: "rust"}}))

	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(got))

	err = svc.RemoveByTerms(ctx, []engine.Term{{Field: "colour", Value: "red"}})
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
}

func TestService_RecycleScenario(t *testing.T) {
	// Given: a threshold of 3
	svc := openNotes(t, func(b *Builder[note]) { b.EntriesBeforeRecycle(3) })
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{{ID: "A"}}))
	assert.Equal(t, 1, svc.Stats().Pending)

	require.NoError(t, svc.Add(ctx, []note{{ID: "B"}, {ID: "C"}}))
	st := svc.Stats()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, uint64(1), st.Recycles)

	require.NoError(t, svc.Add(ctx, []note{{ID: "D"}}))
	assert.Equal(t, 1, svc.Stats().Pending)

	// Then: all four records are visible across the recycle
	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(got))
}

func TestService_RecycleTransparency(t *testing.T) {
	svc := openNotes(t, func(b *Builder[note]) { b.EntriesBeforeRecycle(5) })
	ctx := context.Background()

	// When: many small batches force several recycles
	for i := 0; i < 23; i++ {
		require.NoError(t, svc.Add(ctx, []note{{ID: fmt.Sprintf("n%02d", i), Body: "payload"}}))
	}

	// Then: every record is queryable
	got, err := svc.Query(ctx, query.Match("body", "payload"), 100)
	require.NoError(t, err)
	assert.Len(t, got, 23)
	assert.Equal(t, uint64(4), svc.Stats().Recycles)
	assert.Equal(t, 3, svc.Stats().Pending)
}

func TestService_CommitRetryBound(t *testing.T) {
	eng := newFaultyEngine()
	svc := openNotes(t, func(b *Builder[note]) { b.Engine(eng) })
	ctx := context.Background()

	// Given: every commit fails
	eng.plan.alwaysFail.Store(true)

	// When: adding
	err := svc.Add(ctx, []note{{ID: "a"}})

	// Then: three attempts and ERR_501
	require.Error(t, err)
	assert.ErrorIs(t, err, ierrors.ErrCommitFailed)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, int64(3), eng.plan.commits.Load())

	// And: nothing leaks into the next successful commit
	eng.plan.alwaysFail.Store(false)
	require.NoError(t, svc.Add(ctx, []note{{ID: "b"}}))
	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(got))
	assert.Equal(t, 1, svc.Stats().Pending)
}

func TestService_TransientCommitFailureRecovers(t *testing.T) {
	eng := newFaultyEngine()
	svc := openNotes(t, func(b *Builder[note]) { b.Engine(eng) })
	eng.plan.commitFailures.Store(2)

	require.NoError(t, svc.Add(context.Background(), []note{{ID: "a"}}))

	assert.Equal(t, int64(3), eng.plan.commits.Load())
	assert.Equal(t, uint64(1), svc.Stats().Documents)
}

func TestService_RecycleFailureBlocksWritersUntilExplicitRecycle(t *testing.T) {
	eng := newFaultyEngine()
	obs := &recordingObserver{}
	svc := openNotes(t, func(b *Builder[note]) {
		b.Engine(eng).EntriesBeforeRecycle(2).Observer(obs)
	})
	ctx := context.Background()

	// Given: writer construction fails
	eng.plan.failNewWriter.Store(true)

	// When: a batch crosses the threshold
	err := svc.Add(ctx, []note{{ID: "a"}, {ID: "b"}})

	// Then: the batch is committed but the caller sees ERR_601
	assert.ErrorIs(t, err, ierrors.ErrRecycleFailed)
	assert.Equal(t, SlotEmpty, svc.Stats().Slot)
	assert.Equal(t, uint64(2), svc.Stats().Documents)

	// And: writers wait instead of failing
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Add(waitCtx, []note{{ID: "c"}}), context.DeadlineExceeded)

	// When: the fault clears and an operator recycles
	eng.plan.failNewWriter.Store(false)
	require.NoError(t, svc.Recycle(ctx))

	// Then: writes flow again
	require.NoError(t, svc.Add(ctx, []note{{ID: "c"}}))
	assert.Equal(t, uint64(3), svc.Stats().Documents)
	assert.Len(t, obs.recycleEvents(), 2)
}

func TestService_ReadWriteIsolation(t *testing.T) {
	svc := openNotes(t, func(b *Builder[note]) { b.EntriesBeforeRecycle(7) })
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 0; i < 15; i++ {
				id := fmt.Sprintf("w%d-%02d", w, i)
				if err := svc.Add(gctx, []note{{ID: id, Body: "shared", Rank: i}}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			last := 0
			for i := 0; i < 30; i++ {
				got, err := svc.Query(gctx, query.Match("body", "shared"), 1000)
				if err != nil {
					return err
				}
				for _, n := range got {
					if n.Body != "shared" {
						return fmt.Errorf("partially decoded record %+v", n)
					}
				}
				if len(got) < last {
					return fmt.Errorf("result count went backwards: %d < %d", len(got), last)
				}
				last = len(got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got, err := svc.Query(ctx, query.Match("body", "shared"), 1000)
	require.NoError(t, err)
	assert.Len(t, got, 60)
	assert.Equal(t, uint64(8), svc.Stats().Recycles)
}

func TestService_QueryScoresAndLimit(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{
		{ID: "a", Body: "lamp"},
		{ID: "b", Body: "lamp lamp lamp shade"},
		{ID: "c", Body: "chair"},
	}))

	got, err := svc.Query(ctx, query.Match("body", "lamp"), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Positive(t, got[0].Score)

	got, err = svc.Query(ctx, query.Match("body", "lamp"), 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.Query(ctx, nil, 10)
	assert.Equal(t, ierrors.ErrCodeInvalidInput, ierrors.GetCode(err))
}

func TestService_QueryCacheFollowsGeneration(t *testing.T) {
	obs := &recordingObserver{}
	svc := openNotes(t, func(b *Builder[note]) { b.QueryCacheSize(8).Observer(obs) })
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "lamp"}}))
	for i := 0; i < 2; i++ {
		_, err := svc.Query(ctx, query.Match("body", "lamp"), 10)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Add(ctx, []note{{ID: "b", Body: "lamp"}}))
	got, err := svc.Query(ctx, query.Match("body", "lamp"), 10)
	require.NoError(t, err)

	assert.Len(t, got, 2)
	events := obs.queryEvents()
	require.Len(t, events, 3)
	assert.False(t, events[0].Cached)
	assert.True(t, events[1].Cached)
	assert.False(t, events[2].Cached)
}

func TestService_ManualReloadNeedsRefresh(t *testing.T) {
	svc := openNotes(t, func(b *Builder[note]) { b.Reload(engine.ReloadManual, 0) })
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, []note{{ID: "a"}}))
	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, svc.Refresh(ctx))
	got, err = svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestService_BufferFullAbortsBatch(t *testing.T) {
	svc := openNotes(t, func(b *Builder[note]) { b.BufferBytes(200) })
	ctx := context.Background()

	big := make([]note, 0, 10)
	for i := 0; i < 10; i++ {
		big = append(big, note{ID: fmt.Sprintf("n%d", i), Body: "some text that fills the buffer"})
	}

	err := svc.Add(ctx, big)
	assert.ErrorIs(t, err, ierrors.ErrBufferFull)

	// The aborted batch left nothing behind.
	require.NoError(t, svc.Add(ctx, []note{{ID: "small"}}))
	got, err := svc.Query(ctx, query.All(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"small"}, ids(got))
}

func TestService_EncodeFailure(t *testing.T) {
	svc := openNotes(t, nil)

	err := svc.Add(context.Background(), []note{{ID: "ok"}, {ID: ""}})

	assert.Equal(t, ierrors.ErrCodeEncodeFailed, ierrors.GetCode(err))
	assert.Equal(t, uint64(0), svc.Stats().Documents)
}

func TestService_EmptyInputIsNoop(t *testing.T) {
	eng := newFaultyEngine()
	svc := openNotes(t, func(b *Builder[note]) { b.Engine(eng) })
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, nil))
	require.NoError(t, svc.Remove(ctx, []note{}))
	require.NoError(t, svc.RemoveByKeys(ctx, nil))
	require.NoError(t, svc.RemoveByTerms(ctx, nil))

	assert.Zero(t, eng.plan.commits.Load())
	assert.Zero(t, svc.Stats().Pending)
}

func TestService_CloseIsIdempotentAndFinal(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Close(ctx))
	require.NoError(t, svc.Close(ctx))

	assert.ErrorIs(t, svc.Add(ctx, []note{{ID: "a"}}), ierrors.ErrClosed)
	_, err := svc.Query(ctx, query.All(), 1)
	assert.ErrorIs(t, err, ierrors.ErrClosed)
	assert.ErrorIs(t, svc.Recycle(ctx), ierrors.ErrClosed)
	assert.ErrorIs(t, svc.Refresh(ctx), ierrors.ErrClosed)
	assert.True(t, svc.Stats().Closed)
}

func TestService_DirectoryLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes")
	ctx := context.Background()

	first, err := Open(ctx, path, noteMapper, DefaultOptions())
	require.NoError(t, err)

	// When: a second service opens the same directory
	_, err = Open(ctx, path, noteMapper, DefaultOptions())

	// Then: it is refused
	assert.ErrorIs(t, err, ierrors.ErrIndexLocked)

	// And: the lock is released on close
	require.NoError(t, first.Close(ctx))
	second, err := Open(ctx, path, noteMapper, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))
}

func TestService_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes")
	ctx := context.Background()
	opts := DefaultOptions()
	opts.ReloadPolicy = engine.ReloadOnCommit

	svc, err := Open(ctx, path, noteMapper, opts)
	require.NoError(t, err)
	require.NoError(t, svc.Add(ctx, []note{{ID: "a", Body: "kept"}}))
	require.NoError(t, svc.Close(ctx))

	svc, err = Open(ctx, path, noteMapper, opts)
	require.NoError(t, err)
	defer func() { _ = svc.Close(ctx) }()

	got, err := svc.Query(ctx, query.Match("body", "kept"), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))
}

func TestOpen_InvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.CommitRetries = 0

	_, err := Open(context.Background(), "", noteMapper, opts)

	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

// queryWithin runs a query and fails the test if it does not return before
// the deadline.
func queryWithin(t *testing.T, svc *Service[note], d time.Duration) []note {
	t.Helper()
	type result struct {
		notes []note
		err   error
	}
	done := make(chan result, 1)
	go func() {
		got, err := svc.Query(context.Background(), query.All(), 10)
		done <- result{got, err}
	}()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.notes
	case <-time.After(d):
		t.Fatalf("query blocked for more than %s", d)
		return nil
	}
}

func TestService_QueryDoesNotWaitForWriter(t *testing.T) {
	svc := openNotes(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Add(ctx, []note{{ID: "a"}}))

	// Given: a writer guard held by another caller
	guard, err := svc.slot.Acquire(ctx)
	require.NoError(t, err)

	// Then: queries still return promptly
	assert.Equal(t, []string{"a"}, ids(queryWithin(t, svc, time.Second)))
	guard.Release()
}

func TestService_QueryDoesNotWaitForEmptySlot(t *testing.T) {
	eng := newFaultyEngine()
	svc := openNotes(t, func(b *Builder[note]) { b.Engine(eng).EntriesBeforeRecycle(1) })
	ctx := context.Background()

	// Given: a failed recycle left the slot empty
	eng.plan.failNewWriter.Store(true)
	assert.ErrorIs(t, svc.Add(ctx, []note{{ID: "a"}}), ierrors.ErrRecycleFailed)
	require.Equal(t, SlotEmpty, svc.Stats().Slot)

	// Then: queries still return promptly and see the committed record
	assert.Equal(t, []string{"a"}, ids(queryWithin(t, svc, time.Second)))

	eng.plan.failNewWriter.Store(false)
	require.NoError(t, svc.Recycle(ctx))
}

type counter struct {
	ID   uint64 `index:"id,pk"`
	Name string `index:"name,kind=keyword"`
}

func TestService_LargeIntegerKeysStayDistinct(t *testing.T) {
	svc, err := NewBuilder[counter](schema.MustStructMapper[counter]("counters")).
		Reload(engine.ReloadOnCommit, 0).
		Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	ctx := context.Background()

	// Given: two keys that collide once rounded to float64
	require.NoError(t, svc.Add(ctx, []counter{{ID: 1 << 53, Name: "a"}, {ID: 1<<53 + 1, Name: "b"}}))

	// When: reading everything and one key
	all, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	byKey, err := query.Key(svc.Schema(), uint64(1<<53+1))
	require.NoError(t, err)
	one, err := svc.Query(ctx, byKey, 10)
	require.NoError(t, err)

	// Then: both records keep their exact keys
	require.Len(t, all, 2)
	got := map[uint64]string{all[0].ID: all[0].Name, all[1].ID: all[1].Name}
	assert.Equal(t, map[uint64]string{1 << 53: "a", 1<<53 + 1: "b"}, got)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Name)

	// And: removing by the exact key leaves the neighbour
	require.NoError(t, svc.RemoveByKeys(ctx, []any{uint64(1<<53 + 1)}))
	left, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, uint64(1<<53), left[0].ID)
}

func TestService_LargeIntegerMapKeysStayDistinct(t *testing.T) {
	mapper, err := schema.NewMapMapper(engine.Schema{
		Name:       "events",
		PrimaryKey: "seq",
		Fields: []engine.Field{
			{Name: "seq", Kind: engine.KindNumeric},
			{Name: "kind", Kind: engine.KindKeyword},
		},
	})
	require.NoError(t, err)
	svc, err := NewBuilder[schema.Record](mapper).Reload(engine.ReloadOnCommit, 0).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	ctx := context.Background()

	// Given: JSON keys 2^53 and 2^53+1
	require.NoError(t, svc.Add(ctx, []schema.Record{
		{"seq": json.Number("9007199254740992"), "kind": "a"},
		{"seq": json.Number("9007199254740993"), "kind": "b"},
	}))

	// Then: both documents exist with exact keys
	got, err := svc.Query(ctx, query.All(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	keys := map[any]any{got[0]["seq"]: got[0]["kind"], got[1]["seq"]: got[1]["kind"]}
	assert.Equal(t, map[any]any{int64(9007199254740992): "a", int64(9007199254740993): "b"}, keys)
}
