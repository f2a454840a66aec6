package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Resource URIs served by the server.
const (
	SchemaURI       = "recyclix://schema"
	QueryMetricsURI = "recyclix://query_metrics"
)

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary `json:"summary"`
	ZeroResultQueries   []string            `json:"zero_result_queries"`
	LatencyDistribution map[string]int64    `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	CachedQueries int64   `json:"cached_queries"`
	FailedQueries int64   `json:"failed_queries"`
	ZeroResultPct float64 `json:"zero_result_pct"`
}

// registerResources registers the schema resource and, with a journal,
// the query_metrics resource.
func (s *Server) registerResources() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "schema",
			URI:         SchemaURI,
			Description: "Field names, kinds and primary key of the index schema",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return jsonResource(SchemaURI, s.svc.Schema())
		},
	)

	if s.journal == nil {
		return
	}
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query counters, zero-result queries and latency histogram",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			out, err := s.queryMetrics(ctx)
			if err != nil {
				return nil, MapError(err)
			}
			return jsonResource(QueryMetricsURI, out)
		},
	)
}

func (s *Server) queryMetrics(ctx context.Context) (QueryMetricsOutput, error) {
	if s.journal == nil {
		return QueryMetricsOutput{}, ErrNoJournal
	}
	sum, err := s.journal.Summary(ctx, s.svc.Name())
	if err != nil {
		return QueryMetricsOutput{}, err
	}

	out := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  sum.Queries,
			CachedQueries: sum.CachedQueries,
			FailedQueries: sum.FailedQueries,
		},
		ZeroResultQueries:   append([]string{}, sum.RecentZeroResult...),
		LatencyDistribution: make(map[string]int64, len(sum.Latency)),
	}
	if sum.Queries > 0 {
		out.Summary.ZeroResultPct = float64(sum.ZeroResults) / float64(sum.Queries) * 100
	}
	for bucket, count := range sum.Latency {
		out.LatencyDistribution[string(bucket)] = count
	}
	return out, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(content),
			},
		},
	}, nil
}
