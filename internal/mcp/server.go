package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/index"
	"github.com/Aman-CERP/recyclix/internal/query"
	"github.com/Aman-CERP/recyclix/internal/schema"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
	"github.com/Aman-CERP/recyclix/pkg/version"
)

// maxLimit bounds the number of records a single search returns.
const maxLimit = 100

// Server is the MCP server for recyclix.
// It exposes one index service to AI clients as a set of tools.
type Server struct {
	mcp          *mcp.Server
	svc          *index.Service[schema.Record]
	journal      *telemetry.Journal
	defaultLimit int
	logger       *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        "search",
		Description: "Search the index with a bleve query string (field:value, +must, -must_not, numeric ranges like views:>10). Returns records best score first.",
	},
	{
		Name:        "get",
		Description: "Fetch one record by primary key. Returns an empty list when the key is unknown.",
	},
	{
		Name:        "add",
		Description: "Upsert records. A record whose primary key already exists replaces the stored one. The batch is committed before the tool returns.",
	},
	{
		Name:        "remove",
		Description: "Delete records by primary key. Unknown keys are ignored.",
	},
	{
		Name:        "recycle",
		Description: "Replace the index writer now and reset the entry counter.",
	},
	{
		Name:        "status",
		Description: "Report index statistics, writer slot state and, when telemetry is enabled, commit, recycle and query activity.",
	},
}

// NewServer creates a new MCP server for svc. journal may be nil when
// telemetry is disabled.
func NewServer(svc *index.Service[schema.Record], journal *telemetry.Journal, cfg *config.Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("index service is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		svc:          svc,
		journal:      journal,
		defaultLimit: clampLimit(cfg.Server.DefaultLimit, 10, 1, maxLimit),
		logger:       slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "recyclix",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetLogger replaces the server logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), toolInfos...)
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// protocol layer.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return callWith(ctx, args, s.search)
	case "get":
		return callWith(ctx, args, s.get)
	case "add":
		return callWith(ctx, args, s.add)
	case "remove":
		return callWith(ctx, args, s.remove)
	case "recycle":
		return callWith(ctx, args, s.recycle)
	case "status":
		return callWith(ctx, args, s.status)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// callWith decodes args into In the way the protocol layer does and runs fn.
func callWith[In, Out any](ctx context.Context, args map[string]any, fn func(context.Context, In) (Out, error)) (Out, error) {
	var in In
	var zero Out
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return zero, NewInvalidParamsError(err.Error())
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return zero, NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	out, err := fn(ctx, in)
	if err != nil {
		return zero, MapError(err)
	}
	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, s.tool("search"), s.mcpSearchHandler)
	mcp.AddTool(s.mcp, s.tool("get"), handlerFor(s.get))
	mcp.AddTool(s.mcp, s.tool("add"), handlerFor(s.add))
	mcp.AddTool(s.mcp, s.tool("remove"), handlerFor(s.remove))
	mcp.AddTool(s.mcp, s.tool("recycle"), handlerFor(s.recycle))
	mcp.AddTool(s.mcp, s.tool("status"), handlerFor(s.status))

	s.logger.Info("MCP tools registered", slog.Int("count", len(toolInfos)))
}

func (s *Server) tool(name string) *mcp.Tool {
	for _, t := range toolInfos {
		if t.Name == name {
			return &mcp.Tool{Name: t.Name, Description: t.Description}
		}
	}
	panic("mcp: unknown tool " + name)
}

// handlerFor adapts a tool function to the SDK's typed handler signature.
func handlerFor[In, Out any](fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		out, err := fn(ctx, in)
		if err != nil {
			var zero Out
			return nil, zero, MapError(err)
		}
		return nil, out, nil
	}
}

// mcpSearchHandler is the MCP SDK handler for the search tool. Besides the
// structured output it returns a markdown rendering for clients that only
// show text content.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	output, err := s.search(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	text := FormatRecords(input.Query, output.Records, s.svc.Schema())
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, output, nil
}

func (s *Server) search(ctx context.Context, input SearchInput) (SearchOutput, error) {
	start := time.Now()
	requestID := generateRequestID()
	limit := clampLimit(input.Limit, s.defaultLimit, 1, maxLimit)

	q, err := query.String(strings.TrimSpace(input.Query))
	if err != nil {
		return SearchOutput{}, NewInvalidParamsError(err.Error())
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("limit", limit))

	records, err := s.svc.Query(ctx, q, limit)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return SearchOutput{}, err
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(records)))

	if records == nil {
		records = []schema.Record{}
	}
	return SearchOutput{Records: records}, nil
}

func (s *Server) get(ctx context.Context, input GetInput) (SearchOutput, error) {
	key, err := s.keyValue(input.Key)
	if err != nil {
		return SearchOutput{}, err
	}
	q, err := query.Key(s.svc.Schema(), key)
	if err != nil {
		return SearchOutput{}, NewInvalidParamsError(err.Error())
	}
	records, err := s.svc.Query(ctx, q, 1)
	if err != nil {
		return SearchOutput{}, err
	}
	if records == nil {
		records = []schema.Record{}
	}
	return SearchOutput{Records: records}, nil
}

func (s *Server) add(ctx context.Context, input AddInput) (WriteOutput, error) {
	if len(input.Records) == 0 {
		return WriteOutput{}, NewInvalidParamsError("records must contain at least one record")
	}
	if err := s.svc.Add(ctx, input.Records); err != nil {
		s.logger.Warn("add failed",
			slog.Int("records", len(input.Records)),
			slog.String("error", err.Error()))
		return WriteOutput{}, err
	}
	return s.writeOutput(len(input.Records)), nil
}

func (s *Server) remove(ctx context.Context, input RemoveInput) (WriteOutput, error) {
	if len(input.Keys) == 0 {
		return WriteOutput{}, NewInvalidParamsError("keys must contain at least one key")
	}
	keys := make([]any, 0, len(input.Keys))
	for _, k := range input.Keys {
		v, err := s.keyValue(k)
		if err != nil {
			return WriteOutput{}, err
		}
		keys = append(keys, v)
	}
	if err := s.svc.RemoveByKeys(ctx, keys); err != nil {
		s.logger.Warn("remove failed",
			slog.Int("keys", len(keys)),
			slog.String("error", err.Error()))
		return WriteOutput{}, err
	}
	return s.writeOutput(len(keys)), nil
}

func (s *Server) recycle(ctx context.Context, _ RecycleInput) (WriteOutput, error) {
	if err := s.svc.Recycle(ctx); err != nil {
		return WriteOutput{}, err
	}
	return s.writeOutput(0), nil
}

func (s *Server) status(ctx context.Context, input StatusInput) (StatusOutput, error) {
	st := s.svc.Stats()
	out := StatusOutput{Index: IndexStatus{
		Name:       st.Name,
		Path:       st.Path,
		Documents:  st.Documents,
		Pending:    st.Pending,
		Threshold:  st.Threshold,
		Recycles:   st.Recycles,
		Generation: st.Generation,
		Slot:       string(st.Slot),
	}}
	if s.journal == nil {
		if input.Events > 0 {
			return StatusOutput{}, ErrNoJournal
		}
		return out, nil
	}

	sum, err := s.journal.Summary(ctx, st.Name)
	if err != nil {
		return StatusOutput{}, err
	}
	out.Activity = toActivity(sum)

	if input.Events > 0 {
		events, err := s.journal.Events(ctx, st.Name, clampLimit(input.Events, 10, 1, maxLimit))
		if err != nil {
			return StatusOutput{}, err
		}
		for _, e := range events {
			out.Events = append(out.Events, EventStatus{
				Kind:       e.Kind,
				At:         e.At.UTC().Format(time.RFC3339Nano),
				DurationMS: e.Duration.Milliseconds(),
				Staged:     e.Staged,
				Attempts:   e.Attempts,
				Reason:     e.Reason,
				Error:      e.Error,
			})
		}
	}
	return out, nil
}

func toActivity(sum telemetry.Summary) *ActivityStatus {
	a := &ActivityStatus{
		Commits:          sum.Commits,
		CommitFailures:   sum.CommitFailures,
		CommitRetries:    sum.CommitRetries,
		Recycles:         sum.Recycles,
		RecycleFailures:  sum.RecycleFailures,
		LastRecycleError: sum.LastRecycleError,
		Queries:          sum.Queries,
		ZeroResults:      sum.ZeroResults,
	}
	if !sum.LastRecycleAt.IsZero() {
		a.LastRecycleAt = sum.LastRecycleAt.UTC().Format(time.RFC3339Nano)
	}
	if len(sum.Latency) > 0 {
		a.Latency = make(map[string]int64, len(sum.Latency))
		for b, n := range sum.Latency {
			a.Latency[string(b)] = n
		}
	}
	return a
}

func (s *Server) writeOutput(applied int) WriteOutput {
	st := s.svc.Stats()
	return WriteOutput{Applied: applied, Pending: st.Pending, Recycles: st.Recycles}
}

// keyValue converts a key given as text to the primary key's kind.
func (s *Server) keyValue(key string) (any, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, NewInvalidParamsError("key must be a non-empty string")
	}
	sch := s.svc.Schema()
	pk, ok := sch.Field(sch.PrimaryKey)
	if !ok {
		return key, nil
	}
	v, err := schema.Coerce(pk.Kind, key)
	if err != nil {
		return nil, NewInvalidParamsError(fmt.Sprintf("key %q: %v", key, err))
	}
	return v, nil
}

// Serve starts the server with the specified transport and blocks until ctx
// is cancelled or the transport fails.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	case "http":
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("mcp http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("mcp http shutdown: %w", err)
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// clampLimit returns value bounded to [lo, hi], or def when value is unset.
func clampLimit(value, def, lo, hi int) int {
	if value <= 0 {
		value = def
	}
	return min(max(value, lo), hi)
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
