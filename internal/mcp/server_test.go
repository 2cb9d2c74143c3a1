package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	home, err := config.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	home.Config.Embedding = embedding.Config{Provider: "hash", Dimension: 64, Cache: false}

	manager := index.NewManager(home)
	t.Cleanup(func() { _ = manager.Close() })
	return NewServer(manager, "test")
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"server.go": "package main\n\nfunc StartServer(addr string) error {\n\treturn nil\n}\n",
		"notes.txt": "deployment notes\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0644))
	}
	return root
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestToolsEndToEnd(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListIndexes(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "No indexes found")

	root := newProject(t)
	res, err = s.handleIndexCodebase(ctx, call(map[string]interface{}{
		"path":             root,
		"name":             "demo",
		"exclude_patterns": []interface{}{"*.txt"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "Successfully indexed codebase 'demo'")
	assert.Contains(t, text(t, res), "- Files: 1")

	res, err = s.handleListIndexes(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "**demo**")

	res, err = s.handleQueryCodebase(ctx, call(map[string]interface{}{
		"index_name": "demo",
		"query":      "StartServer",
		"n_results":  float64(3),
	}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "## Result 1 (Similarity:")
	assert.Contains(t, out, "server.go")
	assert.Contains(t, out, "```go")

	res, err = s.handleQueryCodebase(ctx, call(map[string]interface{}{
		"index_name": "demo",
		"query":      "StartServer",
		"mode":       "keyword",
	}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "(Score:")

	res, err = s.handleGetIndexStats(ctx, call(map[string]interface{}{"index_name": "demo"}))
	require.NoError(t, err)
	out = text(t, res)
	assert.Contains(t, out, "## Index: demo")
	assert.Contains(t, out, "**Unique files:** 1")
	assert.Contains(t, out, "- go: ")

	// Re-indexing replaces the shared handle opened by the query.
	res, err = s.handleIndexCodebase(ctx, call(map[string]interface{}{"path": root, "name": "demo"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "- Files: 2")
}

func TestToolErrors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	badArgs := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		want    string
	}{
		{"query missing", s.handleQueryCodebase, map[string]interface{}{"index_name": "x"}, "query parameter is required"},
		{"index name missing", s.handleQueryCodebase, map[string]interface{}{"query": "q"}, "index_name parameter is required"},
		{"n_results too large", s.handleQueryCodebase, map[string]interface{}{"index_name": "x", "query": "q", "n_results": float64(21)}, "n_results must be between 1 and 20"},
		{"n_results zero", s.handleQueryCodebase, map[string]interface{}{"index_name": "x", "query": "q", "n_results": float64(0)}, "n_results"},
		{"unknown mode", s.handleQueryCodebase, map[string]interface{}{"index_name": "x", "query": "q", "mode": "fuzzy"}, "fuzzy"},
		{"invalid index name", s.handleIndexCodebase, map[string]interface{}{"path": t.TempDir(), "name": "bad name"}, "Error:"},
		{"path missing", s.handleIndexCodebase, map[string]interface{}{"name": "demo"}, "path parameter is required"},
		{"no arguments", s.handleGetIndexStats, nil, "index_name parameter is required"},
	}
	for _, tt := range badArgs {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.handler(ctx, call(tt.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(t, res), tt.want)
		})
	}

	res, err := s.handleQueryCodebase(ctx, call(map[string]interface{}{"index_name": "missing", "query": "q"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "not found")

	res, err = s.handleIndexCodebase(ctx, call(map[string]interface{}{
		"path": filepath.Join(t.TempDir(), "absent"), "name": "demo",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "does not exist")

	res, err = s.handleGetIndexStats(ctx, call(map[string]interface{}{"index_name": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	long := strings.Repeat("é", 12)
	assert.Equal(t, strings.Repeat("é", 10)+"\n... (truncated)", Truncate(long, 10))
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"n":     float64(7),
		"flag":  false,
		"globs": []interface{}{"*.go", "", 3, "src/**"},
	}
	assert.Equal(t, 7, getIntDefault(args, "n", 5))
	assert.Equal(t, 5, getIntDefault(args, "missing", 5))
	assert.False(t, getBoolDefault(args, "flag", true))
	assert.True(t, getBoolDefault(args, "missing", true))
	assert.Equal(t, []string{"*.go", "src/**"}, getStringSlice(args, "globs"))
	assert.Nil(t, getStringSlice(args, "missing"))
}
