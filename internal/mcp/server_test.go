package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/recyclix/internal/config"
	"github.com/Aman-CERP/recyclix/internal/engine"
	"github.com/Aman-CERP/recyclix/internal/index"
	"github.com/Aman-CERP/recyclix/internal/schema"
	"github.com/Aman-CERP/recyclix/internal/telemetry"
)

var articleSchema = engine.Schema{
	Name:       "articles",
	PrimaryKey: "id",
	Fields: []engine.Field{
		{Name: "id", Kind: engine.KindKeyword},
		{Name: "title", Kind: engine.KindText},
		{Name: "views", Kind: engine.KindNumeric},
	},
}

func newTestService(t *testing.T, observer index.Observer) *index.Service[schema.Record] {
	t.Helper()
	mapper, err := schema.NewMapMapper(articleSchema)
	require.NoError(t, err)
	b := index.NewBuilder[schema.Record](mapper).
		Reload(engine.ReloadOnCommit, 0).
		EntriesBeforeRecycle(3)
	if observer != nil {
		b = b.Observer(observer)
	}
	svc, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc
}

func newTestServer(t *testing.T, withJournal bool) *Server {
	t.Helper()
	var journal *telemetry.Journal
	var observer index.Observer
	if withJournal {
		j, err := telemetry.OpenJournal("", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		journal, observer = j, j
	}
	s, err := NewServer(newTestService(t, observer), journal, nil)
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Server) {
	t.Helper()
	_, err := s.CallTool(context.Background(), "add", map[string]any{
		"records": []any{
			map[string]any{"id": "a1", "title": "Recycling index writers", "views": 10},
			map[string]any{"id": "b2", "title": "Commit retries", "views": 3},
		},
	})
	require.NoError(t, err)
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	assert.Error(t, err)
}

func TestNewServer_DefaultLimitFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Server.DefaultLimit = 500

	s, err := NewServer(newTestService(t, nil), nil, cfg)

	require.NoError(t, err)
	assert.Equal(t, maxLimit, s.defaultLimit)
}

func TestServer_ListTools(t *testing.T) {
	s := newTestServer(t, false)

	var names []string
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}

	assert.Equal(t, []string{"search", "get", "add", "remove", "recycle", "status"}, names)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	s := newTestServer(t, false)

	_, err := s.CallTool(context.Background(), "drop_index", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestServer_AddThenSearch(t *testing.T) {
	// Given: a server with two records
	s := newTestServer(t, false)
	seed(t, s)

	// When: searching with a query string
	out, err := s.CallTool(context.Background(), "search", map[string]any{"query": "title:recycling"})

	// Then: only the matching record comes back, with a score
	require.NoError(t, err)
	records := out.(SearchOutput).Records
	require.Len(t, records, 1)
	assert.Equal(t, "a1", records[0]["id"])
	assert.Contains(t, records[0], schema.DefaultScoreField)
}

func TestServer_SearchEmptyQueryMatchesAll(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s)

	out, err := s.CallTool(context.Background(), "search", map[string]any{"query": "  ", "limit": 1})

	require.NoError(t, err)
	assert.Len(t, out.(SearchOutput).Records, 1)
}

func TestServer_SearchInvalidQuery(t *testing.T) {
	s := newTestServer(t, false)

	_, err := s.CallTool(context.Background(), "search", map[string]any{"query": "^"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_SearchNoResultsIsEmptyList(t *testing.T) {
	s := newTestServer(t, false)

	out, err := s.CallTool(context.Background(), "search", map[string]any{"query": "title:nothing"})

	require.NoError(t, err)
	records := out.(SearchOutput).Records
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestServer_GetAndRemove(t *testing.T) {
	// Given: two stored records
	s := newTestServer(t, false)
	seed(t, s)
	ctx := context.Background()

	// When: fetching one by key
	out, err := s.CallTool(ctx, "get", map[string]any{"key": "b2"})

	// Then: exactly that record is returned
	require.NoError(t, err)
	records := out.(SearchOutput).Records
	require.Len(t, records, 1)
	assert.Equal(t, "Commit retries", records[0]["title"])

	// When: removing it
	res, err := s.CallTool(ctx, "remove", map[string]any{"keys": []any{"b2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.(WriteOutput).Applied)

	// Then: it is gone
	out, err = s.CallTool(ctx, "get", map[string]any{"key": "b2"})
	require.NoError(t, err)
	assert.Empty(t, out.(SearchOutput).Records)
}

func TestServer_WriteValidation(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"add without records", "add", map[string]any{"records": []any{}}},
		{"add without primary key", "add", map[string]any{"records": []any{map[string]any{"title": "x"}}}},
		{"remove without keys", "remove", map[string]any{}},
		{"remove blank key", "remove", map[string]any{"keys": []any{" "}}},
		{"get blank key", "get", map[string]any{"key": ""}},
		{"wrong argument type", "add", map[string]any{"records": "nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CallTool(ctx, tt.tool, tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestServer_WritesRecycleAtThreshold(t *testing.T) {
	// Given: an index recycling every 3 entries
	s := newTestServer(t, false)
	ctx := context.Background()

	// When: writing one then two records
	out, err := s.CallTool(ctx, "add", map[string]any{"records": []any{map[string]any{"id": "a"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(WriteOutput).Pending)

	out, err = s.CallTool(ctx, "add", map[string]any{"records": []any{map[string]any{"id": "b"}, map[string]any{"id": "c"}}})

	// Then: the second batch reaches the threshold and the counter resets
	require.NoError(t, err)
	assert.Equal(t, 0, out.(WriteOutput).Pending)
	assert.Equal(t, uint64(1), out.(WriteOutput).Recycles)
}

func TestServer_Recycle(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s)

	out, err := s.CallTool(context.Background(), "recycle", nil)

	require.NoError(t, err)
	assert.Equal(t, 0, out.(WriteOutput).Pending)
	assert.Equal(t, uint64(1), out.(WriteOutput).Recycles)
}

func TestServer_ClosedIndex(t *testing.T) {
	s := newTestServer(t, false)
	require.NoError(t, s.svc.Close(context.Background()))

	_, err := s.CallTool(context.Background(), "add", map[string]any{"records": []any{map[string]any{"id": "a"}}})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeIndexUnavailable, mcpErr.Code)
}

func TestServer_StatusWithoutJournal(t *testing.T) {
	s := newTestServer(t, false)
	seed(t, s)
	ctx := context.Background()

	out, err := s.CallTool(ctx, "status", nil)

	require.NoError(t, err)
	st := out.(StatusOutput)
	assert.Equal(t, "articles", st.Index.Name)
	assert.Equal(t, uint64(2), st.Index.Documents)
	assert.Equal(t, 2, st.Index.Pending)
	assert.Equal(t, 3, st.Index.Threshold)
	assert.Equal(t, string(index.SlotIdle), st.Index.Slot)
	assert.Nil(t, st.Activity)

	// Events need the journal.
	_, err = s.CallTool(ctx, "status", map[string]any{"events": 5})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidRequest, mcpErr.Code)
}

func TestServer_StatusWithJournal(t *testing.T) {
	// Given: a journaled server after a write, a recycle and a query
	s := newTestServer(t, true)
	seed(t, s)
	ctx := context.Background()
	_, err := s.CallTool(ctx, "recycle", nil)
	require.NoError(t, err)
	_, err = s.CallTool(ctx, "search", map[string]any{"query": "title:commit"})
	require.NoError(t, err)

	// When: asking for status with events
	out, err := s.CallTool(ctx, "status", map[string]any{"events": 10})

	// Then: activity and events reflect the journal
	require.NoError(t, err)
	st := out.(StatusOutput)
	require.NotNil(t, st.Activity)
	assert.Equal(t, int64(1), st.Activity.Commits)
	assert.Equal(t, int64(1), st.Activity.Recycles)
	assert.NotEmpty(t, st.Activity.LastRecycleAt)
	assert.GreaterOrEqual(t, st.Activity.Queries, int64(1))

	kinds := map[string]int{}
	for _, e := range st.Events {
		kinds[e.Kind]++
	}
	assert.Equal(t, 1, kinds[telemetry.KindCommit])
	assert.Equal(t, 1, kinds[telemetry.KindRecycle])
}

func TestServer_QueryMetrics(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()
	_, err := s.CallTool(ctx, "search", map[string]any{"query": "title:missing"})
	require.NoError(t, err)

	out, err := s.queryMetrics(ctx)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.Summary.TotalQueries, int64(1))
	assert.Greater(t, out.Summary.ZeroResultPct, 0.0)

	_, err = newTestServer(t, false).queryMetrics(ctx)
	assert.ErrorIs(t, err, ErrNoJournal)
}

func TestServer_Serve_UnknownTransport(t *testing.T) {
	s := newTestServer(t, false)

	err := s.Serve(context.Background(), "carrier-pigeon", "")

	assert.ErrorContains(t, err, "unknown transport")
}

func TestServer_OverProtocol(t *testing.T) {
	// Given: a client connected to the server through in-memory transports
	s := newTestServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	serverSession, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = serverSession.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	// When: listing tools
	tools, err := session.ListTools(ctx, nil)

	// Then: every tool is advertised
	require.NoError(t, err)
	assert.Len(t, tools.Tools, len(toolInfos))

	// When: adding and searching through the protocol
	added, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "add",
		Arguments: map[string]any{"records": []any{map[string]any{"id": "p1", "title": "protocol record"}}},
	})
	require.NoError(t, err)
	require.False(t, added.IsError)

	found, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "title:protocol"},
	})

	// Then: the structured output carries the record and the text is markdown
	require.NoError(t, err)
	require.False(t, found.IsError)
	raw, err := json.Marshal(found.StructuredContent)
	require.NoError(t, err)
	var out SearchOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Records, 1)
	assert.Equal(t, "p1", out.Records[0]["id"])

	require.NotEmpty(t, found.Content)
	text, ok := found.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "`p1`")

	// When: reading the schema resource
	res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: SchemaURI})

	// Then: it describes the index schema
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Contains(t, res.Contents[0].Text, "articles")
}
