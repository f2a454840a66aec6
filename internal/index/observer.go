package index

import "time"

// CommitEvent describes one CommitExecutor.Commit call.
type CommitEvent struct {
	Index    string
	Staged   int
	Attempts int
	Duration time.Duration
	Err      error
}

// RecycleEvent describes one writer replacement.
type RecycleEvent struct {
	Index    string
	Reason   string
	Duration time.Duration
	Err      error
}

// QueryEvent describes one query.
type QueryEvent struct {
	Index    string
	Query    string
	Limit    int
	Results  int
	Cached   bool
	Duration time.Duration
	Err      error
}

// Observer receives lifecycle events. Calls are made synchronously on the
// operation's goroutine, so implementations must not block.
type Observer interface {
	CommitFinished(CommitEvent)
	RecycleFinished(RecycleEvent)
	QueryFinished(QueryEvent)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) CommitFinished(CommitEvent)   {}
func (NopObserver) RecycleFinished(RecycleEvent) {}
func (NopObserver) QueryFinished(QueryEvent)     {}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) CommitFinished(e CommitEvent) {
	for _, obs := range o {
		obs.CommitFinished(e)
	}
}

func (o Observers) RecycleFinished(e RecycleEvent) {
	for _, obs := range o {
		obs.RecycleFinished(e)
	}
}

func (o Observers) QueryFinished(e QueryEvent) {
	for _, obs := range o {
		obs.QueryFinished(e)
	}
}
