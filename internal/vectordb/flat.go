package vectordb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/sirupsen/logrus"
	"github.com/viterin/vek/vek32"
)

const (
	vectorsFile   = "vectors.bin"
	metaFile      = "chunks.db"
	vectorsMagic  = "CTXV"
	vectorsFormat = 1
)

// ErrDimensionMismatch is returned when a vector does not match the store dimension
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// FlatStore implements Store with an exact in-memory index over all
// vectors and SQLite for metadata. Vectors are persisted to vectors.bin on
// Flush and Close.
type FlatStore struct {
	config   *StoreConfig
	meta     *SQLiteMetaStore
	mu       sync.RWMutex
	vectors  map[int][]float32
	nextIdx  int
	freeList []int
	dirty    bool
}

// NewFlatStore opens or creates a store in config.Path
func NewFlatStore(config *StoreConfig) (*FlatStore, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", config.Dimension)
	}
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	meta, err := NewSQLiteMetaStore(filepath.Join(config.Path, metaFile))
	if err != nil {
		return nil, err
	}

	s := &FlatStore{
		config:  config,
		meta:    meta,
		vectors: make(map[int][]float32),
	}

	if err := s.load(); err != nil {
		_ = meta.Close()
		return nil, err
	}
	return s, nil
}

// vectorsPath returns the vectors file location
func (s *FlatStore) vectorsPath() string {
	return filepath.Join(s.config.Path, vectorsFile)
}

// InsertBatch adds chunks with their embeddings
func (s *FlatStore) InsertBatch(chunks []*chunk.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunks and embeddings count mismatch: %d != %d", len(chunks), len(embeddings))
	}
	for i, emb := range embeddings {
		if len(emb) != s.config.Dimension {
			return fmt.Errorf("%w: chunk %s has %d, expected %d", ErrDimensionMismatch, chunks[i].ID, len(emb), s.config.Dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	indices := make([]int, len(chunks))
	var replaced []int
	for i := range chunks {
		// A chunk with the same ID is overwritten; its old slot is freed below.
		if _, idx, err := s.meta.Get(chunks[i].ID); err == nil {
			replaced = append(replaced, idx)
		}
		indices[i] = s.allocate()
	}

	if err := s.meta.InsertChunks(chunks, indices); err != nil {
		s.freeList = append(s.freeList, indices...)
		return err
	}
	for _, idx := range replaced {
		delete(s.vectors, idx)
		s.freeList = append(s.freeList, idx)
	}
	for i, idx := range indices {
		s.vectors[idx] = embeddings[i]
	}
	s.dirty = true
	return nil
}

// allocate returns a free vector slot
func (s *FlatStore) allocate() int {
	if n := len(s.freeList); n > 0 {
		idx := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return idx
	}
	idx := s.nextIdx
	s.nextIdx++
	return idx
}

type searchCandidate struct {
	idx      int
	distance float32
}

// Search finds the k most similar chunks to the query embedding
func (s *FlatStore) Search(query []float32, k int, filter *Filter) (*SearchResults, error) {
	if len(query) != s.config.Dimension {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), s.config.Dimension)
	}
	if k <= 0 {
		return &SearchResults{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed, err := s.meta.FilteredVectorIdx(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to apply filter: %w", err)
	}

	candidates := make([]searchCandidate, 0, len(s.vectors))
	for idx, vec := range s.vectors {
		if allowed != nil && !allowed[idx] {
			continue
		}
		candidates = append(candidates, searchCandidate{idx: idx, distance: cosineDistance(query, vec)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].idx < candidates[j].idx
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	indices := make([]int, len(candidates))
	for i, c := range candidates {
		indices[i] = c.idx
	}
	chunks, err := s.meta.GetByVectorIdx(indices)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, len(candidates))
	for _, cand := range candidates {
		c, ok := chunks[cand.idx]
		if !ok {
			continue
		}
		score := max(0, 1-cand.distance)
		if filter != nil && filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		results = append(results, &SearchResult{Chunk: c, Score: score, Distance: cand.distance})
	}

	return &SearchResults{Results: results, Total: len(results)}, nil
}

// DeleteByFile removes all chunks for a file
func (s *FlatStore) DeleteByFile(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indices, err := s.meta.DeleteByFile(file)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		delete(s.vectors, idx)
		s.freeList = append(s.freeList, idx)
	}
	if len(indices) > 0 {
		s.dirty = true
	}
	return nil
}

// Get retrieves a chunk by ID
func (s *FlatStore) Get(id string) (*chunk.Chunk, error) {
	c, _, err := s.meta.Get(id)
	return c, err
}

// GetByFile retrieves all chunks for a file
func (s *FlatStore) GetByFile(file string) ([]*chunk.Chunk, error) {
	return s.meta.GetByFile(file)
}

// All returns every stored chunk
func (s *FlatStore) All() ([]*chunk.Chunk, error) {
	return s.meta.All()
}

// Count returns the total number of chunks
func (s *FlatStore) Count() (int, error) {
	return s.meta.Count()
}

// Files returns all indexed file paths
func (s *FlatStore) Files() ([]string, error) {
	return s.meta.Files()
}

// Stats returns chunk counts by language and kind
func (s *FlatStore) Stats() (*Stats, error) {
	return s.meta.Stats()
}

// SetFile records the content hash of an indexed file
func (s *FlatStore) SetFile(rec FileRecord) error {
	return s.meta.SetFile(rec)
}

// FileRecords returns every recorded file keyed by path
func (s *FlatStore) FileRecords() (map[string]FileRecord, error) {
	return s.meta.FileRecords()
}

// SetMeta stores a metadata value
func (s *FlatStore) SetMeta(key, value string) error {
	return s.meta.SetMeta(key, value)
}

// GetMeta reads a metadata value
func (s *FlatStore) GetMeta(key string) (string, error) {
	return s.meta.GetMeta(key)
}

// Clear removes all chunks, vectors and file records
func (s *FlatStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.meta.Clear(); err != nil {
		return err
	}
	s.vectors = make(map[int][]float32)
	s.nextIdx = 0
	s.freeList = nil
	s.dirty = false

	if err := os.Remove(s.vectorsPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove vectors: %w", err)
	}
	return nil
}

// Flush writes the vectors to disk if they changed
func (s *FlatStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FlatStore) flushLocked() error {
	if !s.dirty {
		return nil
	}
	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save vectors: %w", err)
	}
	s.dirty = false
	return nil
}

// Close saves the vectors and closes the metadata database
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushErr := s.flushLocked()
	if err := s.meta.Close(); err != nil {
		return err
	}
	return flushErr
}

// save writes vectors.bin atomically: header, then (index, vector) records
func (s *FlatStore) save() error {
	tmp := s.vectorsPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	indices := make([]int, 0, len(s.vectors))
	for idx := range s.vectors {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	header := make([]byte, 20)
	copy(header[0:4], vectorsMagic)
	binary.LittleEndian.PutUint32(header[4:8], vectorsFormat)
	binary.LittleEndian.PutUint32(header[8:12], uint32(s.config.Dimension))
	binary.LittleEndian.PutUint32(header[12:16], uint32(s.nextIdx))
	binary.LittleEndian.PutUint32(header[16:20], uint32(len(indices)))

	writeErr := func() error {
		if _, err := w.Write(header); err != nil {
			return err
		}
		buf := make([]byte, 4+4*s.config.Dimension)
		for _, idx := range indices {
			binary.LittleEndian.PutUint32(buf[0:4], uint32(idx))
			for j, v := range s.vectors[idx] {
				binary.LittleEndian.PutUint32(buf[4+4*j:], math.Float32bits(v))
			}
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
		return w.Flush()
	}()
	closeErr := f.Close()
	if writeErr != nil {
		_ = os.Remove(tmp)
		return writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return closeErr
	}
	return os.Rename(tmp, s.vectorsPath())
}

// load reads vectors.bin and rebuilds the free list from the metadata
func (s *FlatStore) load() error {
	if err := s.readVectors(); err != nil {
		return err
	}

	referenced, err := s.meta.VectorIndices()
	if err != nil {
		return err
	}
	if len(referenced) > 0 && len(s.vectors) == 0 {
		logrus.WithField("path", s.config.Path).Warn("vectors file missing; stored chunks are not searchable until rebuilt")
	}

	live := make(map[int]bool, len(referenced))
	for _, idx := range referenced {
		live[idx] = true
		if idx >= s.nextIdx {
			s.nextIdx = idx + 1
		}
	}
	// Drop vectors with no chunk row and recycle every unreferenced slot.
	for idx := range s.vectors {
		if !live[idx] {
			delete(s.vectors, idx)
		}
	}
	for idx := 0; idx < s.nextIdx; idx++ {
		if !live[idx] {
			s.freeList = append(s.freeList, idx)
		}
	}
	return nil
}

func (s *FlatStore) readVectors() error {
	f, err := os.Open(s.vectorsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open vectors: %w", err)
	}
	defer func() { _ = f.Close() }()
	r := bufio.NewReader(f)

	header := make([]byte, 20)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("failed to read vectors header: %w", err)
	}
	if string(header[0:4]) != vectorsMagic {
		return fmt.Errorf("%s is not a vectors file", s.vectorsPath())
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != vectorsFormat {
		return fmt.Errorf("unsupported vectors format %d", v)
	}
	dimension := int(binary.LittleEndian.Uint32(header[8:12]))
	if dimension != s.config.Dimension {
		return fmt.Errorf("%w: index has %d, provider has %d", ErrDimensionMismatch, dimension, s.config.Dimension)
	}
	s.nextIdx = int(binary.LittleEndian.Uint32(header[12:16]))
	count := int(binary.LittleEndian.Uint32(header[16:20]))

	buf := make([]byte, 4+4*dimension)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("failed to read vector %d: %w", i, err)
		}
		idx := int(binary.LittleEndian.Uint32(buf[0:4]))
		vec := make([]float32, dimension)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4+4*j:]))
		}
		s.vectors[idx] = vec
	}
	return nil
}

// cosineDistance computes the cosine distance between two vectors
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1.0
	}

	dot := vek32.Dot(a, b)
	normA := float32(math.Sqrt(float64(vek32.Dot(a, a))))
	normB := float32(math.Sqrt(float64(vek32.Dot(b, b))))
	if normA == 0 || normB == 0 {
		return 1.0
	}

	similarity := dot / (normA * normB)
	// Clamp to [-1, 1] to absorb rounding
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}
