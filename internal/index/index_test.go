package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	home, err := config.Open(filepath.Join(t.TempDir(), "home"))
	require.NoError(t, err)
	home.Config.Embedding = embedding.Config{
		Provider:  "hash",
		Dimension: 64,
		BatchSize: 2,
		Cache:     true,
	}
	m := NewManager(home)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeProject(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

var sampleProject = map[string]string{
	"main.go":   "package main\n\nfunc ParseConfig(path string) error {\n\treturn nil\n}\n",
	"util.py":   "def compute_total(items):\n    return sum(items)\n",
	"README.md": "# Usage\n\nRun the tool from a terminal.\n",
}

func buildSample(t *testing.T, m *Manager, name string) (*Indexer, string) {
	t.Helper()
	root := t.TempDir()
	writeProject(t, root, sampleProject)

	ix, err := m.Create(name, root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })

	_, err = ix.Build(context.Background(), DefaultBuildOptions(), nil)
	require.NoError(t, err)
	return ix, root
}

func TestBuildAndSearch(t *testing.T) {
	m := newTestManager(t)

	var phases []Phase
	root := t.TempDir()
	writeProject(t, root, sampleProject)
	ix, err := m.Create("sample", root)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	result, err := ix.Build(context.Background(), DefaultBuildOptions(), func(p Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []Phase{PhaseTraverse, PhaseValidate, PhaseChunk, PhaseEmbed, PhaseStore, PhaseComplete}, phases)
	assert.Equal(t, config.StatusCompleted, result.Info.Status)
	assert.Equal(t, 3, result.Info.Files)
	assert.Positive(t, result.Info.Chunks)
	assert.NotEmpty(t, result.Info.BuildID)
	assert.Equal(t, 64, result.Info.Dimension)

	cur := m.Home().Config.Current
	require.NotNil(t, cur)
	assert.Equal(t, "sample", cur.Name)
	assert.Equal(t, config.StatusCompleted, cur.Status)

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, root, infos[0].Root)

	ctx := context.Background()
	t.Run("vector", func(t *testing.T) {
		res, err := ix.Search(ctx, "ParseConfig", nil)
		require.NoError(t, err)
		require.NotEmpty(t, res.Results)
		assert.Equal(t, "main.go", filepath.Base(res.Results[0].Chunk.File))
		assert.Equal(t, ModeVector, res.Mode)
	})

	t.Run("keyword", func(t *testing.T) {
		res, err := ix.Search(ctx, "compute_total", &SearchOptions{Mode: ModeKeyword})
		require.NoError(t, err)
		require.NotEmpty(t, res.Results)
		assert.Equal(t, "util.py", filepath.Base(res.Results[0].Chunk.File))
	})

	t.Run("hybrid", func(t *testing.T) {
		res, err := ix.Search(ctx, "ParseConfig", &SearchOptions{Mode: ModeHybrid, Limit: 2})
		require.NoError(t, err)
		require.NotEmpty(t, res.Results)
		assert.LessOrEqual(t, len(res.Results), 2)
		assert.Equal(t, "main.go", filepath.Base(res.Results[0].Chunk.File))
	})

	t.Run("filter", func(t *testing.T) {
		res, err := ix.Search(ctx, "ParseConfig", &SearchOptions{Filter: &vectordb.Filter{Languages: []string{"python"}}})
		require.NoError(t, err)
		require.NotEmpty(t, res.Results)
		for _, r := range res.Results {
			assert.Equal(t, "python", r.Chunk.Language)
		}
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := ix.Search(ctx, "  ", nil)
		assert.Error(t, err)
	})
}

func TestUpdate(t *testing.T) {
	m := newTestManager(t)
	ix, root := buildSample(t, m, "sample")
	ctx := context.Background()

	writeProject(t, root, map[string]string{
		"util.py": "def compute_average(items):\n    return sum(items) / len(items)\n",
		"new.go":  "package main\n\nfunc Render() {}\n",
	})
	require.NoError(t, os.Remove(filepath.Join(root, "README.md")))

	result, err := ix.Update(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Modified)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 3, result.Changed())

	info := ix.Info()
	assert.Equal(t, 3, info.Files)
	files, err := ix.Store().Files()
	require.NoError(t, err)
	assert.NotContains(t, files, filepath.Join(root, "README.md"))
	assert.Contains(t, files, filepath.Join(root, "new.go"))

	res, err := ix.Search(ctx, "compute_total", &SearchOptions{Mode: ModeKeyword})
	require.NoError(t, err)
	assert.Empty(t, res.Results, "old content should be gone from the keyword index")

	res, err = ix.Search(ctx, "compute_average", &SearchOptions{Mode: ModeKeyword})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)

	again, err := ix.Update(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, again.Changed())
	assert.Equal(t, 3, again.Unchanged)
}

func TestBuildSizeLimit(t *testing.T) {
	m := newTestManager(t)
	m.Home().Config.Indexing.MaxFiles = 1

	root := t.TempDir()
	writeProject(t, root, sampleProject)
	ix, err := m.Create("big", root)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	_, err = ix.Build(context.Background(), DefaultBuildOptions(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSizeLimit)

	var limitErr *SizeLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Contains(t, limitErr.Messages[0], "Too many files")

	info, err := m.Info("big")
	require.NoError(t, err)
	assert.Equal(t, config.StatusFailed, info.Status)
	assert.NotEmpty(t, info.Error)
}

// shortProvider drops the last embedding of every batch
type shortProvider struct {
	embedding.Provider
}

func (p shortProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := p.Provider.EmbedBatch(ctx, texts)
	if err != nil || len(out) == 0 {
		return out, err
	}
	return out[:len(out)-1], nil
}

func TestBuildEmbeddingCountMismatch(t *testing.T) {
	m := newTestManager(t)
	root := t.TempDir()
	writeProject(t, root, sampleProject)

	created, err := m.Create("short", root)
	require.NoError(t, err)
	info := created.Info()
	require.NoError(t, created.Close())

	ix, err := m.openWith(m.Path("short"), &info, shortProvider{embedding.NewHashProvider(64)}, m.Home().Config.Embedding)
	require.NoError(t, err)
	defer func() { _ = ix.Close() }()

	_, err = ix.Build(context.Background(), DefaultBuildOptions(), nil)
	assert.ErrorIs(t, err, ErrEmbeddingCount)
	assert.Equal(t, config.StatusFailed, ix.Info().Status)
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Create("bad/name", t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = m.Create("..", t.TempDir())
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = m.Info("missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, m.Delete("missing"), ErrIndexNotFound)

	_, err = m.Create("nope", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)

	ix, _ := buildSample(t, m, "sample")
	require.NoError(t, ix.Close())
	assert.True(t, m.Exists("sample"))

	shared, err := m.Get("sample")
	require.NoError(t, err)
	again, err := m.Get("sample")
	require.NoError(t, err)
	assert.Same(t, shared, again)

	require.NoError(t, m.Delete("sample"))
	assert.False(t, m.Exists("sample"))
	assert.Nil(t, m.Home().Config.Current)

	infos, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestOpenUsesBuildSettings(t *testing.T) {
	m := newTestManager(t)
	ix, _ := buildSample(t, m, "sample")
	require.NoError(t, ix.Close())

	// Changing the configured dimension must not break the existing index.
	m.Home().Config.Embedding.Dimension = 32

	opened, err := m.Open("sample")
	require.NoError(t, err)
	defer func() { _ = opened.Close() }()

	assert.Equal(t, 64, opened.Info().Dimension)
	res, err := opened.Search(context.Background(), "ParseConfig", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

func TestWatch(t *testing.T) {
	old := WatchDebounce
	WatchDebounce = 50 * time.Millisecond
	defer func() { WatchDebounce = old }()

	m := newTestManager(t)
	ix, root := buildSample(t, m, "sample")

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan *UpdateResult, 4)
	done := make(chan error, 1)
	go func() {
		done <- ix.Watch(ctx, func(r *UpdateResult, err error) {
			if err == nil {
				updates <- r
			}
		})
	}()

	// The watcher registers its directories asynchronously; keep touching
	// the file until an update arrives.
	deadline := time.After(5 * time.Second)
	var got *UpdateResult
	for got == nil {
		writeProject(t, root, map[string]string{"added.go": "package main\n\nfunc Added() {}\n"})
		select {
		case got = <-updates:
		case <-time.After(300 * time.Millisecond):
		case <-deadline:
			t.Fatal("no update after file change")
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, got.Added)
	files, err := ix.Store().Files()
	require.NoError(t, err)
	assert.Contains(t, files, filepath.Join(root, "added.go"))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", ModeVector, false},
		{"vector", ModeVector, false},
		{"Keyword", ModeKeyword, false},
		{" hybrid ", ModeHybrid, false},
		{"fuzzy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSizeValidator(t *testing.T) {
	root := t.TempDir()
	var files []string
	for i := 0; i < 8; i++ {
		path := filepath.Join(root, "small"+string(rune('a'+i))+".txt")
		require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 10+i)), 0644))
		files = append(files, path)
	}
	big := filepath.Join(root, "big.bin")
	require.NoError(t, os.WriteFile(big, make([]byte, 1700*1024), 0644))
	files = append(files, big)

	v := NewSizeValidator(config.IndexingConfig{MaxFiles: 10, MaxTotalSizeMB: 2, MaxFileSizeMB: 1})
	stats := v.Analyze(files)

	assert.Equal(t, 9, stats.TotalFiles)
	require.Len(t, stats.LargestFiles, 5)
	assert.Equal(t, big, stats.LargestFiles[0].Path)
	assert.Equal(t, filepath.Join(root, "smallh.txt"), stats.LargestFiles[1].Path)
	require.Len(t, stats.OversizedFiles, 1)
	assert.True(t, stats.IsOversized(big))

	ok, msgs := v.Validate(stats)
	assert.True(t, ok)
	joined := strings.Join(msgs, "\n")
	assert.Contains(t, joined, "Approaching file limit: 9 files")
	assert.Contains(t, joined, "Approaching size limit")
	assert.Contains(t, joined, "exceeding 1 MB")
	assert.Contains(t, joined, "big.bin")

	v = NewSizeValidator(config.IndexingConfig{MaxFiles: 5, MaxTotalSizeMB: 1, MaxFileSizeMB: 5})
	ok, msgs = v.Validate(v.Analyze(files))
	assert.False(t, ok)
	assert.Contains(t, strings.Join(msgs, "\n"), "Project too large")

	summary := v.Summary(stats)
	assert.Equal(t, "Project statistics:", summary[0])
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512.00 B", FormatSize(512))
	assert.Equal(t, "1.50 KB", FormatSize(1536))
	assert.Equal(t, "2.00 MB", FormatSize(2*1024*1024))
}

func TestSizeLimitErrorUnwraps(t *testing.T) {
	err := error(&SizeLimitError{Messages: []string{"too big"}})
	assert.True(t, errors.Is(err, ErrSizeLimit))
	assert.Contains(t, err.Error(), "too big")
}
