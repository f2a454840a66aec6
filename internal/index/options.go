package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
	"github.com/Aman-CERP/recyclix/internal/schema"
)

// Defaults for Options.
const (
	DefaultBufferBytes          = 50_000_000
	DefaultEntriesBeforeRecycle = 1_000_000
	DefaultCommitRetries        = 3
	DefaultRetryDelay           = 100 * time.Millisecond
	DefaultDrainTimeout         = 30 * time.Second
)

// Options configures a Service.
type Options struct {
	// BufferBytes is the writer's staging budget.
	BufferBytes int

	// EntriesBeforeRecycle is the recycle threshold. Zero disables
	// threshold recycling.
	EntriesBeforeRecycle int

	// CommitRetries is the total number of commit attempts.
	CommitRetries int

	// RetryDelay is the base backoff between commit attempts.
	RetryDelay time.Duration

	// DrainTimeout bounds how long a recycle waits for the old writer.
	DrainTimeout time.Duration

	ReloadPolicy engine.ReloadPolicy
	ReloadDelay  time.Duration

	// QueryCacheSize is the number of cached query results. Zero disables
	// the cache.
	QueryCacheSize int

	Observer Observer
	Logger   *slog.Logger

	// Engine defaults to bleve.
	Engine engine.Engine
}

// DefaultOptions returns the builder defaults.
func DefaultOptions() Options {
	return Options{
		BufferBytes:          DefaultBufferBytes,
		EntriesBeforeRecycle: DefaultEntriesBeforeRecycle,
		CommitRetries:        DefaultCommitRetries,
		RetryDelay:           DefaultRetryDelay,
		DrainTimeout:         DefaultDrainTimeout,
		ReloadPolicy:         engine.ReloadOnCommitWithDelay,
		ReloadDelay:          engine.DefaultReloadDelay,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	switch {
	case o.BufferBytes < 0:
		return ierrors.ConfigError(fmt.Sprintf("buffer size must not be negative: %d", o.BufferBytes), nil)
	case o.EntriesBeforeRecycle < 0:
		return ierrors.ConfigError(fmt.Sprintf("entries before recycle must not be negative: %d", o.EntriesBeforeRecycle), nil)
	case o.CommitRetries < 1:
		return ierrors.ConfigError(fmt.Sprintf("commit retries must be at least 1: %d", o.CommitRetries), nil)
	case o.RetryDelay < 0:
		return ierrors.ConfigError("retry delay must not be negative", nil)
	case o.DrainTimeout < 0:
		return ierrors.ConfigError("drain timeout must not be negative", nil)
	case o.QueryCacheSize < 0:
		return ierrors.ConfigError("query cache size must not be negative", nil)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Engine == nil {
		o.Engine = engine.NewBleve(o.Logger)
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.ReloadDelay <= 0 {
		o.ReloadDelay = engine.DefaultReloadDelay
	}
	return o
}

// Builder assembles a Service step by step.
type Builder[R any] struct {
	path   string
	mapper schema.Mapper[R]
	opts   Options
}

// NewBuilder starts from DefaultOptions and an in-memory index.
func NewBuilder[R any](mapper schema.Mapper[R]) *Builder[R] {
	return &Builder[R]{mapper: mapper, opts: DefaultOptions()}
}

// Path sets the index directory. Empty means in-memory.
func (b *Builder[R]) Path(path string) *Builder[R] {
	b.path = path
	return b
}

func (b *Builder[R]) BufferBytes(n int) *Builder[R] {
	b.opts.BufferBytes = n
	return b
}

func (b *Builder[R]) EntriesBeforeRecycle(n int) *Builder[R] {
	b.opts.EntriesBeforeRecycle = n
	return b
}

func (b *Builder[R]) CommitRetries(n int) *Builder[R] {
	b.opts.CommitRetries = n
	return b
}

func (b *Builder[R]) RetryDelay(d time.Duration) *Builder[R] {
	b.opts.RetryDelay = d
	return b
}

func (b *Builder[R]) DrainTimeout(d time.Duration) *Builder[R] {
	b.opts.DrainTimeout = d
	return b
}

// Reload sets the reader reload policy. delay only applies to
// engine.ReloadOnCommitWithDelay.
func (b *Builder[R]) Reload(policy engine.ReloadPolicy, delay time.Duration) *Builder[R] {
	b.opts.ReloadPolicy = policy
	b.opts.ReloadDelay = delay
	return b
}

func (b *Builder[R]) QueryCacheSize(n int) *Builder[R] {
	b.opts.QueryCacheSize = n
	return b
}

func (b *Builder[R]) Observer(o Observer) *Builder[R] {
	b.opts.Observer = o
	return b
}

func (b *Builder[R]) Logger(l *slog.Logger) *Builder[R] {
	b.opts.Logger = l
	return b
}

func (b *Builder[R]) Engine(e engine.Engine) *Builder[R] {
	b.opts.Engine = e
	return b
}

// Options returns the options collected so far.
func (b *Builder[R]) Options() Options {
	return b.opts
}

// Build opens the service.
func (b *Builder[R]) Build(ctx context.Context) (*Service[R], error) {
	return Open(ctx, b.path, b.mapper, b.opts)
}
