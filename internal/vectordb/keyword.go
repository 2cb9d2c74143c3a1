package vectordb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/sirupsen/logrus"
)

const keywordDir = "keyword.bleve"

// KeywordIndex is a bleve full-text index over chunk content, names and paths
type KeywordIndex struct {
	index bleve.Index
	path  string
	mu    sync.RWMutex
}

// chunkDocument is the indexed form of a chunk
type chunkDocument struct {
	Content  string `json:"content"`
	Name     string `json:"name"`
	File     string `json:"file"`
	Kind     string `json:"kind"`
	Language string `json:"language"`
}

// KeywordHit is one keyword search match
type KeywordHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// NewKeywordIndex opens or creates the keyword index inside dir. A
// corrupt index is deleted and recreated.
func NewKeywordIndex(dir string) (*KeywordIndex, error) {
	indexPath := filepath.Join(dir, keywordDir)

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		index, err = bleve.New(indexPath, buildKeywordMapping())
	} else if err != nil {
		logrus.WithError(err).WithField("path", indexPath).Warn("recreating unreadable keyword index")
		_ = os.RemoveAll(indexPath)
		index, err = bleve.New(indexPath, buildKeywordMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	return &KeywordIndex{index: index, path: indexPath}, nil
}

func buildKeywordMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "standard"
	textFieldMapping.Store = false

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = "keyword"

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("content", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("name", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("file", textFieldMapping)
	chunkMapping.AddFieldMappingsAt("kind", keywordFieldMapping)
	chunkMapping.AddFieldMappingsAt("language", keywordFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// IndexChunks adds or replaces chunks in one batch
func (k *KeywordIndex) IndexChunks(chunks []*chunk.Chunk) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, c := range chunks {
		doc := chunkDocument{
			Content:  c.Content,
			Name:     c.Name(),
			File:     c.File,
			Kind:     string(c.Kind),
			Language: c.Language,
		}
		if err := batch.Index(c.ID, doc); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
	}
	return k.index.Batch(batch)
}

// Delete removes chunks by ID
func (k *KeywordIndex) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return k.index.Batch(batch)
}

// Search runs a fuzzy match query. Kind and language filters are applied
// in the index; file patterns are left to the caller.
func (k *KeywordIndex) Search(text string, limit int, filter *Filter) ([]KeywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetFuzziness(1)
	queries := []query.Query{matchQuery}

	if filter != nil && len(filter.Kinds) > 0 {
		terms := make([]query.Query, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			tq := bleve.NewTermQuery(string(kind))
			tq.SetField("kind")
			terms[i] = tq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(terms...))
	}
	if filter != nil && len(filter.Languages) > 0 {
		terms := make([]query.Query, len(filter.Languages))
		for i, lang := range filter.Languages {
			tq := bleve.NewTermQuery(lang)
			tq.SetField("language")
			terms[i] = tq
		}
		queries = append(queries, bleve.NewDisjunctionQuery(terms...))
	}

	var q query.Query = matchQuery
	if len(queries) > 1 {
		q = bleve.NewConjunctionQuery(queries...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	result, err := k.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	hits := make([]KeywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, KeywordHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// DocCount returns the number of indexed chunks
func (k *KeywordIndex) DocCount() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.index.DocCount()
}

// Clear drops and recreates the index
func (k *KeywordIndex) Clear() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.index.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(k.path); err != nil {
		return fmt.Errorf("failed to remove keyword index: %w", err)
	}
	index, err := bleve.New(k.path, buildKeywordMapping())
	if err != nil {
		return fmt.Errorf("failed to create keyword index: %w", err)
	}
	k.index = index
	return nil
}

// Close closes the index
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Close()
}
