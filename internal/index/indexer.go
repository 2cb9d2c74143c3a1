package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/traverse"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrEmbeddingCount is returned when a provider answers with a different
// number of vectors than texts it was given
var ErrEmbeddingCount = errors.New("embedding count does not match chunk count")

// storeBatchSize is the number of chunks inserted per store call
const storeBatchSize = 1000

// Phase names a step of an index build
type Phase string

const (
	PhaseTraverse Phase = "traverse"
	PhaseValidate Phase = "validate"
	PhaseChunk    Phase = "chunk"
	PhaseEmbed    Phase = "embed"
	PhaseStore    Phase = "store"
	PhaseComplete Phase = "complete"
)

// Progress reports how far a phase has got. Total is zero while unknown.
type Progress struct {
	Phase Phase  `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
	File  string `json:"file,omitempty"`
}

// ProgressFunc is called with progress updates. Calls are serialised.
type ProgressFunc func(Progress)

// BuildOptions selects the files of a build
type BuildOptions struct {
	Include          []string
	Exclude          []string
	FollowIgnoreFile bool
}

// DefaultBuildOptions honours .gitignore and has no extra patterns
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{FollowIgnoreFile: true}
}

// BuildResult describes a finished build
type BuildResult struct {
	Info     Info          `json:"info"`
	Project  *ProjectStats `json:"project,omitempty"`
	Messages []string      `json:"messages,omitempty"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// UpdateResult describes an incremental update
type UpdateResult struct {
	Added     int           `json:"added"`
	Modified  int           `json:"modified"`
	Removed   int           `json:"removed"`
	Unchanged int           `json:"unchanged"`
	Chunks    int           `json:"chunks"`
	Duration  time.Duration `json:"duration"`
}

// Changed returns the number of files whose chunks were replaced or dropped
func (r *UpdateResult) Changed() int {
	return r.Added + r.Modified + r.Removed
}

// Indexer is an open index. Build and Update are serialised; searches may
// run concurrently with them.
type Indexer struct {
	manager   *Manager
	dir       string
	store     *vectordb.FlatStore
	keyword   *vectordb.KeywordIndex
	provider  embedding.Provider
	embedding embedding.Config

	mu     sync.Mutex
	infoMu sync.RWMutex
	info   *Info

	closeOnce sync.Once
	closeErr  error
}

// fileChunks holds one file read for indexing
type fileChunks struct {
	path   string
	hash   string
	size   int64
	chunks []*chunk.Chunk
}

// Name returns the index name
func (ix *Indexer) Name() string {
	ix.infoMu.RLock()
	defer ix.infoMu.RUnlock()
	return ix.info.Name
}

// Info returns a snapshot of the index metadata
func (ix *Indexer) Info() Info {
	ix.infoMu.RLock()
	defer ix.infoMu.RUnlock()
	return *ix.info
}

// Dir returns the index directory
func (ix *Indexer) Dir() string {
	return ix.dir
}

// Store returns the vector store
func (ix *Indexer) Store() vectordb.Store {
	return ix.store
}

// Stats returns chunk statistics from the store
func (ix *Indexer) Stats() (*vectordb.Stats, error) {
	return ix.store.Stats()
}

// Build indexes every eligible file under the root, replacing the previous
// contents. Embeddings are computed before anything is removed, so a failed
// build leaves the old chunks searchable.
func (ix *Indexer) Build(ctx context.Context, opts BuildOptions, progress ProgressFunc) (*BuildResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	ix.updateInfo(func(info *Info) {
		info.Include = opts.Include
		info.Exclude = opts.Exclude
		info.FollowIgnoreFile = opts.FollowIgnoreFile
		info.BuildID = uuid.NewString()
		info.Status = config.StatusIndexing
		info.Error = ""
	})
	if err := ix.saveInfo(); err != nil {
		return nil, err
	}

	info := ix.Info()
	log := logrus.WithFields(logrus.Fields{
		"index":    info.Name,
		"build_id": info.BuildID,
		"provider": info.Provider,
	})
	log.WithField("root", info.Root).Info("building index")

	result, err := ix.build(ctx, info, serialise(progress))
	if err != nil {
		ix.fail(err)
		log.WithError(err).Error("index build failed")
		return result, err
	}

	result.Info = ix.Info()
	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"files":    result.Info.Files,
		"chunks":   result.Info.Chunks,
		"duration": result.Duration,
	}).Info("index build complete")
	return result, nil
}

func (ix *Indexer) build(ctx context.Context, info Info, progress ProgressFunc) (*BuildResult, error) {
	result := &BuildResult{}

	files, err := ix.collect(info, progress)
	if err != nil {
		return result, err
	}

	files, err = ix.validate(files, result, progress)
	if err != nil {
		return result, err
	}

	sources, err := ix.chunkFiles(ctx, files, progress)
	if err != nil {
		return result, err
	}
	chunks := flatten(sources)

	vectors, err := ix.embed(ctx, chunks, progress)
	if err != nil {
		return result, err
	}

	if err := ix.store.Clear(); err != nil {
		return result, fmt.Errorf("failed to clear index: %w", err)
	}
	if err := ix.keyword.Clear(); err != nil {
		return result, fmt.Errorf("failed to clear keyword index: %w", err)
	}
	if err := ix.insert(sources, chunks, vectors, progress); err != nil {
		return result, err
	}
	if err := ix.store.SetMeta("build_id", info.BuildID); err != nil {
		return result, err
	}
	if err := ix.store.SetMeta("root", info.Root); err != nil {
		return result, err
	}
	if err := ix.store.Flush(); err != nil {
		return result, err
	}

	var size int64
	for _, s := range sources {
		size += s.size
	}
	ix.updateInfo(func(info *Info) {
		info.Status = config.StatusCompleted
		info.Files = len(sources)
		info.Chunks = len(chunks)
		info.SizeBytes = size
		info.UpdatedAt = time.Now().UTC()
	})
	if err := ix.saveInfo(); err != nil {
		return result, err
	}
	progress(Progress{Phase: PhaseComplete, Done: len(sources), Total: len(sources)})
	return result, nil
}

// Update re-indexes files whose content changed since the last build or
// update and drops files that no longer exist.
func (ix *Indexer) Update(ctx context.Context, progress ProgressFunc) (*UpdateResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	progress = serialise(progress)
	info := ix.Info()
	log := logrus.WithField("index", info.Name)

	result, err := ix.update(ctx, info, progress)
	if err != nil {
		ix.fail(err)
		log.WithError(err).Error("index update failed")
		return nil, err
	}
	result.Duration = time.Since(start)
	log.WithFields(logrus.Fields{
		"added":    result.Added,
		"modified": result.Modified,
		"removed":  result.Removed,
		"chunks":   result.Chunks,
	}).Info("index updated")
	return result, nil
}

func (ix *Indexer) update(ctx context.Context, info Info, progress ProgressFunc) (*UpdateResult, error) {
	files, err := ix.collect(info, progress)
	if err != nil {
		return nil, err
	}
	files, err = ix.validate(files, &BuildResult{}, progress)
	if err != nil {
		return nil, err
	}

	records, err := ix.store.FileRecords()
	if err != nil {
		return nil, fmt.Errorf("failed to load file records: %w", err)
	}

	result := &UpdateResult{}
	current := make(map[string]bool, len(files))
	var changed []string
	for _, path := range files {
		current[path] = true
		rec, known := records[path]
		if known {
			hash, err := hashFile(path)
			if err == nil && hash == rec.Hash {
				result.Unchanged++
				continue
			}
		}
		if known {
			result.Modified++
		} else {
			result.Added++
		}
		changed = append(changed, path)
	}

	var stale []string
	for path := range records {
		if !current[path] {
			result.Removed++
			stale = append(stale, path)
		}
	}
	for _, path := range changed {
		if _, known := records[path]; known {
			stale = append(stale, path)
		}
	}

	sources, err := ix.chunkFiles(ctx, changed, progress)
	if err != nil {
		return nil, err
	}
	chunks := flatten(sources)
	vectors, err := ix.embed(ctx, chunks, progress)
	if err != nil {
		return nil, err
	}

	for _, path := range stale {
		if err := ix.removeFile(path); err != nil {
			return nil, err
		}
	}
	if err := ix.insert(sources, chunks, vectors, progress); err != nil {
		return nil, err
	}
	if err := ix.store.Flush(); err != nil {
		return nil, err
	}
	result.Chunks = len(chunks)

	if err := ix.refreshCounts(); err != nil {
		return nil, err
	}
	progress(Progress{Phase: PhaseComplete, Done: len(changed), Total: len(changed)})
	return result, nil
}

// refreshCounts recomputes the info counters from the store
func (ix *Indexer) refreshCounts() error {
	records, err := ix.store.FileRecords()
	if err != nil {
		return err
	}
	count, err := ix.store.Count()
	if err != nil {
		return err
	}
	var size int64
	for _, rec := range records {
		size += rec.Size
	}
	ix.updateInfo(func(info *Info) {
		info.Status = config.StatusCompleted
		info.Error = ""
		info.Files = len(records)
		info.Chunks = count
		info.SizeBytes = size
		info.UpdatedAt = time.Now().UTC()
	})
	return ix.saveInfo()
}

// collect walks the root with the recorded traversal settings
func (ix *Indexer) collect(info Info, progress ProgressFunc) ([]string, error) {
	t, err := traverse.New(info.TraverseConfig())
	if err != nil {
		return nil, err
	}
	var files []string
	for path := range t.Walk() {
		files = append(files, path)
		if len(files)%100 == 0 {
			progress(Progress{Phase: PhaseTraverse, Done: len(files)})
		}
	}
	progress(Progress{Phase: PhaseTraverse, Done: len(files), Total: len(files)})
	return files, nil
}

// validate enforces the size limits and drops oversized files
func (ix *Indexer) validate(files []string, result *BuildResult, progress ProgressFunc) ([]string, error) {
	validator := NewSizeValidator(ix.manager.home.Config.Indexing)
	stats := validator.Analyze(files)
	ok, msgs := validator.Validate(stats)
	result.Project = stats
	result.Messages = msgs
	progress(Progress{Phase: PhaseValidate, Done: len(files), Total: len(files)})

	for _, m := range msgs {
		logrus.WithField("index", ix.Name()).Warn(m)
	}
	if !ok {
		return nil, &SizeLimitError{Messages: msgs}
	}
	if len(stats.OversizedFiles) == 0 {
		return files, nil
	}

	kept := files[:0:0]
	for _, f := range files {
		if !stats.IsOversized(f) {
			kept = append(kept, f)
		}
	}
	result.Skipped = len(files) - len(kept)
	return kept, nil
}

// chunkFiles reads and chunks files on a bounded worker pool. The result
// keeps the input order; unreadable files are logged and left out.
func (ix *Indexer) chunkFiles(ctx context.Context, files []string, progress ProgressFunc) ([]fileChunks, error) {
	limits := ix.manager.home.Config.Indexing
	cfg := chunk.DefaultConfig()
	if limits.ChunkSize > 0 {
		cfg.MaxChunkSize = limits.ChunkSize
	}
	if limits.ChunkOverlap >= 0 {
		cfg.Overlap = limits.ChunkOverlap
	}
	chunker, err := chunk.NewChunker(cfg)
	if err != nil {
		return nil, err
	}

	workers := limits.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out := make([]fileChunks, len(files))
	read := make([]bool, len(files))
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				logrus.WithError(err).WithField("file", path).Warn("failed to read file")
				return nil
			}
			sum := sha256.Sum256(raw)
			out[i] = fileChunks{
				path:   path,
				hash:   hex.EncodeToString(sum[:]),
				size:   int64(len(raw)),
				chunks: chunker.ChunkSource(path, raw),
			}
			read[i] = true

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			progress(Progress{Phase: PhaseChunk, Done: n, Total: len(files), File: path})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := out[:0]
	for i := range out {
		if read[i] {
			kept = append(kept, out[i])
		}
	}
	return kept, nil
}

// embed computes one vector per chunk
func (ix *Indexer) embed(ctx context.Context, chunks []*chunk.Chunk, progress ProgressFunc) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = formatChunkForEmbedding(c)
	}

	size := ix.embedding.BatchSize
	if size <= 0 {
		size = embedding.DefaultBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batch, err := ix.provider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: %d embeddings for %d chunks", ErrEmbeddingCount, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
		progress(Progress{Phase: PhaseEmbed, Done: end, Total: len(texts)})
	}
	return vectors, nil
}

// insert writes chunks, vectors and file records
func (ix *Indexer) insert(sources []fileChunks, chunks []*chunk.Chunk, vectors [][]float32, progress ProgressFunc) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d embeddings for %d chunks", ErrEmbeddingCount, len(vectors), len(chunks))
	}

	for start := 0; start < len(chunks); start += storeBatchSize {
		end := min(start+storeBatchSize, len(chunks))
		if err := ix.store.InsertBatch(chunks[start:end], vectors[start:end]); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		if err := ix.keyword.IndexChunks(chunks[start:end]); err != nil {
			return fmt.Errorf("failed to index chunks: %w", err)
		}
		progress(Progress{Phase: PhaseStore, Done: end, Total: len(chunks)})
	}

	for _, s := range sources {
		rec := vectordb.FileRecord{Path: s.path, Hash: s.hash, Size: s.size, Chunks: len(s.chunks)}
		if err := ix.store.SetFile(rec); err != nil {
			return fmt.Errorf("failed to record file %s: %w", s.path, err)
		}
	}
	return nil
}

// removeFile drops every chunk of path from both indexes
func (ix *Indexer) removeFile(path string) error {
	chunks, err := ix.store.GetByFile(path)
	if err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := ix.keyword.Delete(ids); err != nil {
		return fmt.Errorf("failed to remove %s from keyword index: %w", path, err)
	}
	if err := ix.store.DeleteByFile(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (ix *Indexer) updateInfo(fn func(*Info)) {
	ix.infoMu.Lock()
	defer ix.infoMu.Unlock()
	fn(ix.info)
}

// saveInfo persists info.json and mirrors the state into the home config
func (ix *Indexer) saveInfo() error {
	info := ix.Info()
	if err := writeInfo(ix.dir, &info); err != nil {
		return err
	}
	home := ix.manager.home
	if err := home.UpdateIndexMeta(info.Name, info.Status, info.Files, info.Chunks, float64(info.SizeBytes)/bytesPerMB); err != nil {
		logrus.WithError(err).Warn("failed to record index state in config")
	}
	return nil
}

func (ix *Indexer) fail(cause error) {
	ix.updateInfo(func(info *Info) {
		info.Status = config.StatusFailed
		info.Error = cause.Error()
		info.UpdatedAt = time.Now().UTC()
	})
	if err := ix.saveInfo(); err != nil {
		logrus.WithError(err).Warn("failed to record index failure")
	}
}

// Close releases the store, keyword index and provider. Later calls return
// the first result.
func (ix *Indexer) Close() error {
	ix.closeOnce.Do(func() {
		ix.closeErr = errors.Join(
			ix.store.Close(),
			ix.keyword.Close(),
			ix.provider.Close(),
		)
	})
	return ix.closeErr
}

// formatChunkForEmbedding prefixes the content with the chunk kind and
// declared name when one is known
func formatChunkForEmbedding(c *chunk.Chunk) string {
	if name := c.Name(); name != "" {
		return fmt.Sprintf("%s %s\n%s", c.Kind, name, c.Content)
	}
	return c.Content
}

func flatten(sources []fileChunks) []*chunk.Chunk {
	var out []*chunk.Chunk
	for _, s := range sources {
		out = append(out, s.chunks...)
	}
	return out
}

func hashFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// serialise makes progress safe to call from several goroutines and
// tolerates a nil callback
func serialise(progress ProgressFunc) ProgressFunc {
	if progress == nil {
		return func(Progress) {}
	}
	var mu sync.Mutex
	return func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		progress(p)
	}
}
