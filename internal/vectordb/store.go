// Package vectordb stores chunk embeddings and their metadata.
package vectordb

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ihavespoons/ctxai/internal/chunk"
)

// ErrNotFound is returned when a chunk ID is not in the store
var ErrNotFound = errors.New("chunk not found")

// Filter represents filtering options for vector search
type Filter struct {
	// Files filters by file paths (glob patterns supported)
	Files []string
	// Kinds filters by chunk kind
	Kinds []chunk.Kind
	// Languages filters by language
	Languages []string
	// MinScore filters results below this similarity score
	MinScore float32
}

// IsEmpty reports whether the filter restricts nothing
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Files) == 0 && len(f.Kinds) == 0 && len(f.Languages) == 0 && f.MinScore <= 0)
}

// MatchFile reports whether file matches one of the file patterns. A
// pattern without a leading slash may match any trailing part of the path.
func (f *Filter) MatchFile(file string) bool {
	if f == nil || len(f.Files) == 0 {
		return true
	}
	for _, pattern := range f.Files {
		if pattern == file {
			return true
		}
		if ok, _ := doublestar.Match(pattern, file); ok {
			return true
		}
		if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
			if ok, _ := doublestar.Match("**/"+pattern, file); ok {
				return true
			}
		}
	}
	return false
}

// Match reports whether c satisfies every field of the filter except MinScore
func (f *Filter) Match(c *chunk.Chunk) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 && !contains(f.Kinds, c.Kind) {
		return false
	}
	if len(f.Languages) > 0 && !contains(f.Languages, c.Language) {
		return false
	}
	return f.MatchFile(c.File)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// SearchResult represents a single search result
type SearchResult struct {
	// Chunk is the matched chunk
	Chunk *chunk.Chunk `json:"chunk"`
	// Score is the similarity score (0-1, higher is more similar)
	Score float32 `json:"score"`
	// Distance is the cosine distance (lower is more similar)
	Distance float32 `json:"distance"`
}

// SearchResults contains multiple search results
type SearchResults struct {
	Results []*SearchResult `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query,omitempty"`
}

// FileRecord tracks the content hash of an indexed file for incremental updates
type FileRecord struct {
	Path      string `db:"path" json:"path"`
	Hash      string `db:"hash" json:"hash"`
	Size      int64  `db:"size" json:"size"`
	Chunks    int    `db:"chunks" json:"chunks"`
	IndexedAt int64  `db:"indexed_at" json:"indexed_at"`
}

// Stats summarises the store contents
type Stats struct {
	TotalChunks int            `json:"total_chunks"`
	UniqueFiles int            `json:"unique_files"`
	Languages   map[string]int `json:"languages"`
	Kinds       map[string]int `json:"kinds"`
}

// Store is the interface for vector storage backends
type Store interface {
	// InsertBatch adds chunks with their embeddings; the slices must align
	InsertBatch(chunks []*chunk.Chunk, embeddings [][]float32) error

	// Search finds the k most similar chunks to the query embedding
	Search(query []float32, k int, filter *Filter) (*SearchResults, error)

	// DeleteByFile removes all chunks for a file
	DeleteByFile(file string) error

	// Get retrieves a chunk by ID
	Get(id string) (*chunk.Chunk, error)

	// GetByFile retrieves all chunks for a file, ordered by start line
	GetByFile(file string) ([]*chunk.Chunk, error)

	// Count returns the total number of chunks
	Count() (int, error)

	// Files returns all indexed file paths
	Files() ([]string, error)

	// Stats returns chunk counts by language and kind
	Stats() (*Stats, error)

	// SetFile records the content hash of an indexed file
	SetFile(rec FileRecord) error

	// FileRecords returns every recorded file keyed by path
	FileRecords() (map[string]FileRecord, error)

	// SetMeta stores a metadata value
	SetMeta(key, value string) error

	// GetMeta reads a metadata value; missing keys return ""
	GetMeta(key string) (string, error)

	// Clear removes all data from the store
	Clear() error

	// Close persists and releases resources
	Close() error
}

// StoreConfig contains configuration for the vector store
type StoreConfig struct {
	// Path is the directory for store data
	Path string
	// Dimension is the embedding dimension
	Dimension int
}

// DefaultStoreConfig returns default configuration
func DefaultStoreConfig(path string, dimension int) *StoreConfig {
	return &StoreConfig{
		Path:      path,
		Dimension: dimension,
	}
}
