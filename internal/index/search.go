package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// Mode selects how a query is matched
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// hybridPool multiplies the limit to size the candidate lists fused by
// hybrid search
const hybridPool = 3

// ParseMode converts a user supplied mode name. Empty means vector.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeVector, nil
	case ModeVector, ModeKeyword, ModeHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown search mode %q (use vector, keyword or hybrid)", s)
	}
}

// SearchOptions configures a search
type SearchOptions struct {
	// Limit is the maximum number of results (default: 5)
	Limit int
	// Mode selects vector, keyword or hybrid matching
	Mode Mode
	// TimeLimit bounds the whole search, embedding included (default: 10s)
	TimeLimit time.Duration
	// Filter restricts results by file, kind, language or score
	Filter *vectordb.Filter
}

// DefaultSearchOptions returns default search options
func DefaultSearchOptions() *SearchOptions {
	return &SearchOptions{
		Limit:     5,
		Mode:      ModeVector,
		TimeLimit: 10 * time.Second,
	}
}

// SearchResult is one matched chunk
type SearchResult struct {
	Chunk *chunk.Chunk `json:"chunk"`
	// Score is the cosine similarity for vector search, the bleve score for
	// keyword search and the fused rank score for hybrid search
	Score float32 `json:"score"`
}

// SearchResults contains search results with metadata
type SearchResults struct {
	Results  []*SearchResult `json:"results"`
	Query    string          `json:"query"`
	Mode     Mode            `json:"mode"`
	Duration time.Duration   `json:"duration"`
}

// Searcher runs queries against one index
type Searcher struct {
	store    vectordb.Store
	keyword  *vectordb.KeywordIndex
	provider embedding.Provider
}

// NewSearcher creates a searcher. keyword may be nil, in which case only
// vector search is available.
func NewSearcher(store vectordb.Store, keyword *vectordb.KeywordIndex, provider embedding.Provider) *Searcher {
	return &Searcher{
		store:    store,
		keyword:  keyword,
		provider: provider,
	}
}

// Searcher returns a searcher for this index
func (ix *Indexer) Searcher() *Searcher {
	return NewSearcher(ix.store, ix.keyword, ix.provider)
}

// Search is shorthand for ix.Searcher().Search
func (ix *Indexer) Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResults, error) {
	return ix.Searcher().Search(ctx, query, opts)
}

// Search finds the chunks that best match query
func (s *Searcher) Search(ctx context.Context, query string, opts *SearchOptions) (*SearchResults, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	defaults := DefaultSearchOptions()
	if opts == nil {
		opts = defaults
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaults.Limit
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeVector
	}
	timeLimit := opts.TimeLimit
	if timeLimit <= 0 {
		timeLimit = defaults.TimeLimit
	}
	if mode != ModeVector && s.keyword == nil {
		return nil, fmt.Errorf("%s search needs a keyword index", mode)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeLimit)
	defer cancel()

	var (
		results []*SearchResult
		err     error
	)
	switch mode {
	case ModeVector:
		results, err = s.vectorSearch(ctx, query, limit, opts.Filter)
	case ModeKeyword:
		results, err = s.keywordSearch(query, limit, opts.Filter)
	case ModeHybrid:
		results, err = s.hybridSearch(ctx, query, limit, opts.Filter)
	default:
		err = fmt.Errorf("unknown search mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	out := &SearchResults{
		Results:  results,
		Query:    query,
		Mode:     mode,
		Duration: time.Since(start),
	}
	logrus.WithFields(logrus.Fields{
		"mode":     mode,
		"results":  len(results),
		"duration": out.Duration,
	}).Debug("search complete")
	return out, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, query string, limit int, filter *vectordb.Filter) ([]*SearchResult, error) {
	vec, err := s.provider.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	found, err := s.store.Search(vec, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	results := make([]*SearchResult, 0, len(found.Results))
	for _, r := range found.Results {
		results = append(results, &SearchResult{Chunk: r.Chunk, Score: r.Score})
	}
	return results, nil
}

// keywordSearch asks bleve for kind and language matches and applies the
// file patterns here, over-fetching when there are any
func (s *Searcher) keywordSearch(query string, limit int, filter *vectordb.Filter) ([]*SearchResult, error) {
	fetch := limit
	if filter != nil && len(filter.Files) > 0 {
		fetch = limit * 10
	}
	hits, err := s.keyword.Search(query, fetch, filter)
	if err != nil {
		return nil, err
	}

	results := make([]*SearchResult, 0, min(limit, len(hits)))
	for _, hit := range hits {
		c, err := s.store.Get(hit.ID)
		if errors.Is(err, vectordb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.MatchFile(c.File) {
			continue
		}
		results = append(results, &SearchResult{Chunk: c, Score: float32(hit.Score)})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// hybridSearch fuses vector and keyword rankings with reciprocal rank fusion
func (s *Searcher) hybridSearch(ctx context.Context, query string, limit int, filter *vectordb.Filter) ([]*SearchResult, error) {
	pool := limit * hybridPool
	vec, err := s.vectorSearch(ctx, query, pool, filter)
	if err != nil {
		return nil, err
	}
	kw, err := s.keywordSearch(query, pool, filter)
	if err != nil {
		return nil, err
	}

	chunks := make(map[string]*chunk.Chunk, len(vec)+len(kw))
	rank := func(results []*SearchResult) []string {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Chunk.ID
			chunks[r.Chunk.ID] = r.Chunk
		}
		return ids
	}
	fused := vectordb.ReciprocalRankFusion(rank(vec), rank(kw))

	results := make([]*SearchResult, 0, min(limit, len(fused)))
	for _, f := range fused[:min(limit, len(fused))] {
		results = append(results, &SearchResult{Chunk: chunks[f.ID], Score: float32(f.Score)})
	}
	return results, nil
}
