package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *index.Manager) {
	t.Helper()
	home, err := config.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	home.Config.Embedding = embedding.Config{Provider: "hash", Dimension: 32}

	m := index.NewManager(home)
	t.Cleanup(func() { _ = m.Close() })
	return NewServer(m, "test"), m
}

func buildIndex(t *testing.T, m *index.Manager, name string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"handler.go": "package api\n\nfunc HandleLogin(user string) bool {\n\treturn user != \"\"\n}\n",
		"jobs.py":    "def schedule_job(name):\n    return name\n",
	}
	for file, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, file), []byte(content), 0644))
	}

	ix, err := m.Create(name, root)
	require.NoError(t, err)
	_, err = ix.Build(context.Background(), index.DefaultBuildOptions(), nil)
	require.NoError(t, err)
	require.NoError(t, ix.Close())
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s, m := newTestServer(t)
	buildIndex(t, m, "api")

	rec := do(t, s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HomeSummary
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, 1, body.Indexes)
	require.NotNil(t, body.Current)
	assert.Equal(t, "api", body.Current.Name)
}

func TestListIndexes(t *testing.T) {
	s, m := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/indexes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	buildIndex(t, m, "beta")
	buildIndex(t, m, "alpha")

	rec = do(t, s, http.MethodGet, "/api/indexes")
	var infos []index.Info
	decode(t, rec, &infos)
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "beta", infos[1].Name)
	assert.Equal(t, 2, infos[0].Files)
}

func TestGetIndex(t *testing.T) {
	s, m := newTestServer(t)
	buildIndex(t, m, "api")

	rec := do(t, s, http.MethodGet, "/api/indexes/api")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail IndexDetail
	decode(t, rec, &detail)
	assert.Equal(t, "api", detail.Name)
	assert.Equal(t, config.StatusCompleted, detail.Status)
	require.NotNil(t, detail.Stats)
	assert.Equal(t, 2, detail.Stats.UniqueFiles)
	assert.Positive(t, detail.DiskUsage)
	assert.NotEmpty(t, detail.DiskSize)

	rec = do(t, s, http.MethodGet, "/api/indexes/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody map[string]string
	decode(t, rec, &errBody)
	assert.Contains(t, errBody["error"], "not found")
}

func TestSearch(t *testing.T) {
	s, m := newTestServer(t)
	buildIndex(t, m, "api")

	rec := do(t, s, http.MethodGet, "/api/indexes/api/search?q=HandleLogin&n=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var results index.SearchResults
	decode(t, rec, &results)
	assert.Equal(t, "HandleLogin", results.Query)
	assert.Equal(t, index.ModeVector, results.Mode)
	require.NotEmpty(t, results.Results)
	assert.LessOrEqual(t, len(results.Results), 2)

	rec = do(t, s, http.MethodGet, "/api/indexes/api/search?q=schedule_job&mode=keyword&lang=python")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &results)
	require.NotEmpty(t, results.Results)
	for _, r := range results.Results {
		assert.Equal(t, "python", r.Chunk.Language)
	}

	rec = do(t, s, http.MethodGet, "/api/indexes/api/search?q=HandleLogin&format=csv")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "api-results.csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Rank,Score,File"))

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"bad format", "/api/indexes/api/search?q=x&format=sarif", http.StatusBadRequest},
		{"missing query", "/api/indexes/api/search", http.StatusBadRequest},
		{"bad n", "/api/indexes/api/search?q=x&n=0", http.StatusBadRequest},
		{"n too large", "/api/indexes/api/search?q=x&n=51", http.StatusBadRequest},
		{"bad mode", "/api/indexes/api/search?q=x&mode=fuzzy", http.StatusBadRequest},
		{"unknown index", "/api/indexes/nope/search?q=x", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, do(t, s, http.MethodGet, tt.target).Code)
		})
	}
}

func TestDeleteIndex(t *testing.T) {
	s, m := newTestServer(t)
	buildIndex(t, m, "api")

	events := make(chan SSEEvent, 1)
	s.sseMu.Lock()
	s.sseClients[events] = true
	s.sseMu.Unlock()

	rec := do(t, s, http.MethodDelete, "/api/indexes/api")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, m.Exists("api"))

	select {
	case ev := <-events:
		assert.Equal(t, "index_deleted", ev.Event)
	default:
		t.Fatal("expected an index_deleted event")
	}

	rec = do(t, s, http.MethodDelete, "/api/indexes/api")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDuringSearch(t *testing.T) {
	s, m := newTestServer(t)
	buildIndex(t, m, "api")

	const workers = 8
	var wg sync.WaitGroup
	codes := make(chan int, workers*10)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 10; j++ {
				codes <- do(t, s, http.MethodGet, "/api/indexes/api/search?q=HandleLogin&mode=hybrid").Code
			}
		}()
	}

	close(start)
	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/indexes/api").Code)
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Contains(t, []int{http.StatusOK, http.StatusNotFound}, code)
	}
	assert.False(t, m.Exists("api"))
}

func TestFilterFromQuery(t *testing.T) {
	assert.Nil(t, filterFromQuery(nil, nil, nil))

	f := filterFromQuery([]string{"go, python"}, []string{"function"}, []string{"src/**", ""})
	require.NotNil(t, f)
	assert.Equal(t, []string{"go", "python"}, f.Languages)
	assert.Len(t, f.Kinds, 1)
	assert.Equal(t, []string{"src/**"}, f.Files)
}
