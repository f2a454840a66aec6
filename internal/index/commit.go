package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recyclix/internal/engine"
	ierrors "github.com/Aman-CERP/recyclix/internal/errors"
)

// CommitExecutor commits a writer with bounded retries and jittered
// exponential backoff.
type CommitExecutor struct {
	name     string
	policy   ierrors.RetryConfig
	observer Observer
	logger   *slog.Logger
}

// NewCommitExecutor returns an executor making at most attempts commit
// attempts, waiting delay*jitter before the second and doubling after each
// failure.
func NewCommitExecutor(name string, attempts int, delay time.Duration, observer Observer, logger *slog.Logger) *CommitExecutor {
	policy := ierrors.DefaultRetryConfig()
	policy.MaxAttempts = attempts
	policy.InitialDelay = delay
	return newCommitExecutor(name, policy, observer, logger)
}

func newCommitExecutor(name string, policy ierrors.RetryConfig, observer Observer, logger *slog.Logger) *CommitExecutor {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitExecutor{name: name, policy: policy, observer: observer, logger: logger}
}

// Commit commits w. Backoff sleeps are not cut short by ctx. After the last
// failed attempt it returns ERR_501_COMMIT_FAILED wrapping the engine error.
func (c *CommitExecutor) Commit(ctx context.Context, w engine.Writer) error {
	staged := w.Staged()
	attempts := 0

	policy := c.policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("commit_retry",
			slog.String("index", c.name),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	start := time.Now()
	err := ierrors.Retry(context.WithoutCancel(ctx), policy, func() error {
		attempts++
		return w.Commit()
	})
	elapsed := time.Since(start)

	if err != nil {
		last := err
		var re *ierrors.RetryError
		if errors.As(err, &re) {
			last = re.Last
		}
		err = ierrors.New(ierrors.ErrCodeCommitFailed,
			fmt.Sprintf("commit failed after %d attempts", attempts), last).
			WithDetail("index", c.name).
			WithDetail("staged", fmt.Sprint(staged))
		c.logger.Error("commit_failed",
			slog.String("index", c.name),
			slog.Int("attempts", attempts),
			slog.String("error", last.Error()))
	}

	c.observer.CommitFinished(CommitEvent{
		Index:    c.name,
		Staged:   staged,
		Attempts: attempts,
		Duration: elapsed,
		Err:      err,
	})
	return err
}
