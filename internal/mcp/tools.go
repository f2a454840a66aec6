package mcp

import "github.com/Aman-CERP/recyclix/internal/schema"

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"bleve query string, e.g. title:lamp +views:>10; empty matches every record"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search and get tools.
type SearchOutput struct {
	Records []schema.Record `json:"records" jsonschema:"matching records, best score first; _score holds the relevance score"`
}

// GetInput defines the input schema for the get tool.
type GetInput struct {
	Key string `json:"key" jsonschema:"primary key of the record"`
}

// AddInput defines the input schema for the add tool.
type AddInput struct {
	Records []schema.Record `json:"records" jsonschema:"records to upsert; each must carry the primary key; send integer keys above 2^53 as strings"`
}

// RemoveInput defines the input schema for the remove tool.
type RemoveInput struct {
	Keys []string `json:"keys" jsonschema:"primary keys of the records to delete"`
}

// WriteOutput reports the effect of a write tool.
type WriteOutput struct {
	Applied  int    `json:"applied" jsonschema:"number of records written or removed"`
	Pending  int    `json:"pending" jsonschema:"entries written since the last writer recycle"`
	Recycles uint64 `json:"recycles" jsonschema:"writer recycles since the index was opened"`
}

// RecycleInput defines the input schema for the recycle tool (no parameters).
type RecycleInput struct{}

// StatusInput defines the input schema for the status tool.
type StatusInput struct {
	Events int `json:"events,omitempty" jsonschema:"number of recent journal events to include, default 0"`
}

// StatusOutput defines the output schema for the status tool.
type StatusOutput struct {
	Index    IndexStatus     `json:"index"`
	Activity *ActivityStatus `json:"activity,omitempty" jsonschema:"journal summary, absent when telemetry is disabled"`
	Events   []EventStatus   `json:"events,omitempty"`
}

// IndexStatus mirrors index.Stats.
type IndexStatus struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Documents  uint64 `json:"documents"`
	Pending    int    `json:"pending"`
	Threshold  int    `json:"threshold"`
	Recycles   uint64 `json:"recycles"`
	Generation uint64 `json:"generation"`
	Slot       string `json:"slot" jsonschema:"writer slot state: idle, busy, empty or closed"`
}

// ActivityStatus mirrors telemetry.Summary.
type ActivityStatus struct {
	Commits          int64            `json:"commits"`
	CommitFailures   int64            `json:"commit_failures"`
	CommitRetries    int64            `json:"commit_retries"`
	Recycles         int64            `json:"recycles"`
	RecycleFailures  int64            `json:"recycle_failures"`
	LastRecycleAt    string           `json:"last_recycle_at,omitempty"`
	LastRecycleError string           `json:"last_recycle_error,omitempty"`
	Queries          int64            `json:"queries"`
	ZeroResults      int64            `json:"zero_results"`
	Latency          map[string]int64 `json:"latency,omitempty" jsonschema:"query count per latency bucket"`
}

// EventStatus is one journal event.
type EventStatus struct {
	Kind       string `json:"kind"`
	At         string `json:"at"`
	DurationMS int64  `json:"duration_ms"`
	Staged     int    `json:"staged,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
}
