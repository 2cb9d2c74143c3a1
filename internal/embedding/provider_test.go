package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

// countingProvider embeds each text as [len(text), call number].
type countingProvider struct {
	mu    sync.Mutex
	calls [][]string
}

func (p *countingProvider) Name() string   { return "counting" }
func (p *countingProvider) Dimension() int { return 2 }
func (p *countingProvider) Close() error   { return nil }

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(len(p.calls))}
	}
	return out, nil
}

func TestValidateConfigDefaults(t *testing.T) {
	cfg := &Config{Provider: "hash"}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}
	if cfg.Dimension != DefaultHashDimension || cfg.Model == "" || cfg.BatchSize != DefaultBatchSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	t.Setenv(BatchSizeEnv, "7")
	cfg = &Config{Provider: "ollama", BatchSize: 50}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig failed: %v", err)
	}
	if cfg.BatchSize != 7 {
		t.Errorf("expected env batch size 7, got %d", cfg.BatchSize)
	}
	if cfg.Endpoint != "http://localhost:11434" {
		t.Errorf("expected default endpoint, got %s", cfg.Endpoint)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	t.Setenv("CTXAI_TEST_MISSING_KEY", "")

	err := ValidateConfig(&Config{Provider: "openai", APIKeyEnv: "CTXAI_TEST_MISSING_KEY"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	if err := ValidateConfig(&Config{Provider: "openai", APIKey: "literal"}); err != nil {
		t.Errorf("literal key should satisfy validation: %v", err)
	}

	if _, err := NewProvider(&Config{Provider: "word2vec"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}

	if err := ValidateConfig(&Config{}); err == nil {
		t.Error("expected error for empty provider")
	}
}

func TestHashProvider(t *testing.T) {
	p, err := NewProvider(&Config{Provider: "hash", Dimension: 64})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	ctx := context.Background()

	a, _ := p.Embed(ctx, "func parseConfig(path string) error")
	b, _ := p.Embed(ctx, "func parseConfig(path string) error")
	c, _ := p.Embed(ctx, "SELECT name FROM users")
	if len(a) != 64 {
		t.Fatalf("expected dimension 64, got %d", len(a))
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("hash embeddings should be deterministic")
	}

	dot := func(x, y []float32) float32 {
		var s float32
		for i := range x {
			s += x[i] * y[i]
		}
		return s
	}
	if self := dot(a, a); self < 0.999 || self > 1.001 {
		t.Errorf("expected unit vector, got norm^2 %f", self)
	}
	q, _ := p.Embed(ctx, "parse config")
	if dot(q, a) <= dot(q, c) {
		t.Error("query should be closer to the text sharing its tokens")
	}
}

func TestSplitIdentifier(t *testing.T) {
	tests := map[string][]string{
		"parseConfig":   {"parse", "Config"},
		"snake_case_id": {"snake", "case", "id"},
		"HTTPServer":    {"HTTPServer"},
		"plain":         {"plain"},
	}
	for in, want := range tests {
		if got := splitIdentifier(in); !reflect.DeepEqual(got, want) {
			t.Errorf("splitIdentifier(%q) = %v, expected %v", in, got, want)
		}
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 0.5})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	p, err := NewProvider(&Config{Provider: "ollama", Endpoint: server.URL, BatchSize: 2, Dimension: 2})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	want := [][]float32{{1, 0.5}, {2, 0.5}, {3, 0.5}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestOllamaProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	p, _ := NewOllamaProvider(&Config{Endpoint: server.URL})
	if _, err := p.Embed(context.Background(), "x"); err == nil {
		t.Error("expected an error for a failed request")
	}
}

func TestHuggingFaceProvider(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/org/model" {
			http.NotFound(w, r)
			return
		}
		// token-level output, one 2x2 matrix per input
		_, _ = w.Write([]byte(`[[[1,2],[3,4]],[[0,0],[2,2]]]`))
	}))
	defer server.Close()

	p, err := NewProvider(&Config{
		Provider: "huggingface",
		Model:    "org/model",
		Endpoint: server.URL,
		APIKey:   "hf-secret",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	want := [][]float32{{2, 3}, {1, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected mean pooled %v, got %v", want, got)
	}
	if auth != "Bearer hf-secret" {
		t.Errorf("unexpected Authorization header %q", auth)
	}
}

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		var data []item
		// reversed on purpose; results are placed by index
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{"embedding", []float32{float32(i), 1}, i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
		})
	}))
	defer server.Close()

	p, err := NewProvider(&Config{Provider: "openai", Endpoint: server.URL, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Dimension() != 1536 {
		t.Errorf("expected default dimension 1536, got %d", p.Dimension())
	}

	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	want := [][]float32{{0, 1}, {1, 1}, {2, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestAzureRequiresEndpoint(t *testing.T) {
	if _, err := NewProvider(&Config{Provider: "azure", APIKey: "k"}); err == nil {
		t.Error("expected an error without an endpoint")
	}
}

func TestBatched(t *testing.T) {
	inner := &countingProvider{}
	p := Batched(inner, 2, 0)

	got, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	if len(inner.calls) != 3 {
		t.Errorf("expected 3 requests, got %d", len(inner.calls))
	}
	for i, emb := range got {
		if emb[0] != float32(i+1) {
			t.Errorf("result %d out of order: %v", i, emb)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.EmbedBatch(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	inner := &countingProvider{}
	p, err := Cached(inner, path, "m1")
	if err != nil {
		t.Fatalf("Cached failed: %v", err)
	}
	ctx := context.Background()

	first, err := p.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	second, err := p.EmbedBatch(ctx, []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}

	if len(inner.calls) != 2 || !reflect.DeepEqual(inner.calls[1], []string{"gamma"}) {
		t.Errorf("expected only the miss to be embedded, calls: %v", inner.calls)
	}
	if !reflect.DeepEqual(second[0], first[1]) || !reflect.DeepEqual(second[2], first[0]) {
		t.Error("cached embeddings differ from the originals")
	}
	if hits, misses := p.Stats(); hits != 2 || misses != 3 {
		t.Errorf("expected 2 hits and 3 misses, got %d and %d", hits, misses)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A different model must not reuse entries.
	other, err := Cached(inner, path, "m2")
	if err != nil {
		t.Fatalf("Cached failed: %v", err)
	}
	defer func() { _ = other.Close() }()
	if _, err := other.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(inner.calls) != 3 {
		t.Errorf("expected a miss for a different model, calls: %v", inner.calls)
	}
}

func TestCacheSharedByProviders(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache failed: %v", err)
	}
	defer func() { _ = cache.Close() }()

	inner := &countingProvider{}
	a := cache.Wrap(inner, "m")
	b := cache.Wrap(inner, "m")
	ctx := context.Background()

	if _, err := a.Embed(ctx, "shared"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Closing one wrapper leaves the cache open for the other.
	if _, err := b.Embed(ctx, "shared"); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(inner.calls) != 1 {
		t.Errorf("expected the second wrapper to hit the cache, calls: %v", inner.calls)
	}
}
