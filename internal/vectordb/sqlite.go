package vectordb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ihavespoons/ctxai/internal/chunk"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteMetaStore stores chunk metadata, file hashes and index metadata in SQLite
type SQLiteMetaStore struct {
	db   *sqlx.DB
	path string
}

// chunkRow is the chunks table layout
type chunkRow struct {
	ID          string `db:"id"`
	File        string `db:"file"`
	Language    string `db:"language"`
	Kind        string `db:"kind"`
	Name        string `db:"name"`
	Content     string `db:"content"`
	StartLine   int    `db:"start_line"`
	EndLine     int    `db:"end_line"`
	Attributes  string `db:"attributes"`
	ContentHash string `db:"content_hash"`
	VectorIdx   int    `db:"vector_idx"`
}

const chunkColumns = `id, file, language, kind, name, content, start_line, end_line, attributes, content_hash, vector_idx`

func newChunkRow(c *chunk.Chunk, vectorIdx int) (chunkRow, error) {
	attrs := "{}"
	if len(c.Attributes) > 0 {
		data, err := json.Marshal(c.Attributes)
		if err != nil {
			return chunkRow{}, fmt.Errorf("failed to encode attributes: %w", err)
		}
		attrs = string(data)
	}
	return chunkRow{
		ID:          c.ID,
		File:        c.File,
		Language:    c.Language,
		Kind:        string(c.Kind),
		Name:        c.Name(),
		Content:     c.Content,
		StartLine:   c.StartLine,
		EndLine:     c.EndLine,
		Attributes:  attrs,
		ContentHash: c.ContentHash,
		VectorIdx:   vectorIdx,
	}, nil
}

func (r chunkRow) toChunk() (*chunk.Chunk, error) {
	c := &chunk.Chunk{
		ID:          r.ID,
		File:        r.File,
		Language:    r.Language,
		Kind:        chunk.Kind(r.Kind),
		Content:     r.Content,
		StartLine:   r.StartLine,
		EndLine:     r.EndLine,
		ContentHash: r.ContentHash,
	}
	if r.Attributes != "" && r.Attributes != "{}" {
		if err := json.Unmarshal([]byte(r.Attributes), &c.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes of %s: %w", r.ID, err)
		}
	}
	return c, nil
}

// NewSQLiteMetaStore creates a new SQLite metadata store
func NewSQLiteMetaStore(path string) (*SQLiteMetaStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the vector store serialises access anyway.
	db.SetMaxOpenConns(1)

	store := &SQLiteMetaStore{db: db, path: path}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// init creates the database schema
func (s *SQLiteMetaStore) init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file TEXT NOT NULL,
			language TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			content_hash TEXT NOT NULL,
			vector_idx INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file);
		CREATE INDEX IF NOT EXISTS idx_chunks_kind ON chunks(kind);
		CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(language);
		CREATE INDEX IF NOT EXISTS idx_chunks_vector_idx ON chunks(vector_idx);

		CREATE TABLE IF NOT EXISTS files (
			path TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertChunks adds chunks in one transaction; vectorIdx[i] belongs to chunks[i]
func (s *SQLiteMetaStore) InsertChunks(chunks []*chunk.Chunk, vectorIdx []int) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamed(`INSERT OR REPLACE INTO chunks (` + chunkColumns + `)
		VALUES (:id, :file, :language, :kind, :name, :content, :start_line, :end_line, :attributes, :content_hash, :vector_idx)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range chunks {
		row, err := newChunkRow(c, vectorIdx[i])
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Get retrieves a chunk and its vector index by chunk ID
func (s *SQLiteMetaStore) Get(id string) (*chunk.Chunk, int, error) {
	var row chunkRow
	err := s.db.Get(&row, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	c, err := row.toChunk()
	return c, row.VectorIdx, err
}

// GetByVectorIdx retrieves the chunks stored at the given vector indices
func (s *SQLiteMetaStore) GetByVectorIdx(indices []int) (map[int]*chunk.Chunk, error) {
	out := make(map[int]*chunk.Chunk, len(indices))
	if len(indices) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+chunkColumns+` FROM chunks WHERE vector_idx IN (?)`, indices)
	if err != nil {
		return nil, err
	}
	var rows []chunkRow
	if err := s.db.Select(&rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		c, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		out[row.VectorIdx] = c
	}
	return out, nil
}

// GetByFile retrieves all chunks for a file
func (s *SQLiteMetaStore) GetByFile(file string) ([]*chunk.Chunk, error) {
	var rows []chunkRow
	err := s.db.Select(&rows, `SELECT `+chunkColumns+` FROM chunks WHERE file = ? ORDER BY start_line, end_line`, file)
	if err != nil {
		return nil, err
	}
	chunks := make([]*chunk.Chunk, 0, len(rows))
	for _, row := range rows {
		c, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// All returns every chunk, ordered by file and position
func (s *SQLiteMetaStore) All() ([]*chunk.Chunk, error) {
	var rows []chunkRow
	if err := s.db.Select(&rows, `SELECT `+chunkColumns+` FROM chunks ORDER BY file, start_line, end_line`); err != nil {
		return nil, err
	}
	chunks := make([]*chunk.Chunk, 0, len(rows))
	for _, row := range rows {
		c, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// DeleteByFile removes all chunks for a file and returns their vector indices
func (s *SQLiteMetaStore) DeleteByFile(file string) ([]int, error) {
	var indices []int
	if err := s.db.Select(&indices, `SELECT vector_idx FROM chunks WHERE file = ?`, file); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM chunks WHERE file = ?`, file); err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, file); err != nil {
		return nil, err
	}
	return indices, nil
}

// VectorIndices returns every vector index referenced by a chunk
func (s *SQLiteMetaStore) VectorIndices() ([]int, error) {
	var indices []int
	err := s.db.Select(&indices, `SELECT vector_idx FROM chunks ORDER BY vector_idx`)
	return indices, err
}

// Count returns the total number of chunks
func (s *SQLiteMetaStore) Count() (int, error) {
	var count int
	err := s.db.Get(&count, `SELECT COUNT(*) FROM chunks`)
	return count, err
}

// Files returns all indexed file paths
func (s *SQLiteMetaStore) Files() ([]string, error) {
	var files []string
	err := s.db.Select(&files, `SELECT DISTINCT file FROM chunks ORDER BY file`)
	return files, err
}

// FilteredVectorIdx returns the vector indices of chunks matching the
// filter's kinds, languages and file patterns. A nil map means no restriction.
func (s *SQLiteMetaStore) FilteredVectorIdx(filter *Filter) (map[int]bool, error) {
	if filter == nil || (len(filter.Files) == 0 && len(filter.Kinds) == 0 && len(filter.Languages) == 0) {
		return nil, nil
	}

	query := `SELECT vector_idx, file FROM chunks WHERE 1 = 1`
	var args []any
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		query += ` AND kind IN (?)`
		args = append(args, kinds)
	}
	if len(filter.Languages) > 0 {
		query += ` AND language IN (?)`
		args = append(args, filter.Languages)
	}
	if len(args) > 0 {
		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, err
		}
	}

	var rows []struct {
		VectorIdx int    `db:"vector_idx"`
		File      string `db:"file"`
	}
	if err := s.db.Select(&rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}

	result := make(map[int]bool, len(rows))
	for _, row := range rows {
		if filter.MatchFile(row.File) {
			result[row.VectorIdx] = true
		}
	}
	return result, nil
}

// Stats returns chunk counts by language and kind
func (s *SQLiteMetaStore) Stats() (*Stats, error) {
	stats := &Stats{
		Languages: make(map[string]int),
		Kinds:     make(map[string]int),
	}
	if err := s.db.Get(&stats.TotalChunks, `SELECT COUNT(*) FROM chunks`); err != nil {
		return nil, err
	}
	if err := s.db.Get(&stats.UniqueFiles, `SELECT COUNT(DISTINCT file) FROM chunks`); err != nil {
		return nil, err
	}

	type group struct {
		Label string `db:"label"`
		Count int    `db:"n"`
	}
	var groups []group
	if err := s.db.Select(&groups, `SELECT language AS label, COUNT(*) AS n FROM chunks GROUP BY language`); err != nil {
		return nil, err
	}
	for _, g := range groups {
		stats.Languages[g.Label] = g.Count
	}

	groups = nil
	if err := s.db.Select(&groups, `SELECT kind AS label, COUNT(*) AS n FROM chunks GROUP BY kind`); err != nil {
		return nil, err
	}
	for _, g := range groups {
		stats.Kinds[g.Label] = g.Count
	}
	return stats, nil
}

// SetFile records an indexed file
func (s *SQLiteMetaStore) SetFile(rec FileRecord) error {
	if rec.IndexedAt == 0 {
		rec.IndexedAt = time.Now().Unix()
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO files (path, hash, size, chunks, indexed_at)
		VALUES (:path, :hash, :size, :chunks, :indexed_at)`, rec)
	return err
}

// FileRecords returns every recorded file keyed by path
func (s *SQLiteMetaStore) FileRecords() (map[string]FileRecord, error) {
	var recs []FileRecord
	if err := s.db.Select(&recs, `SELECT path, hash, size, chunks, indexed_at FROM files`); err != nil {
		return nil, err
	}
	out := make(map[string]FileRecord, len(recs))
	for _, r := range recs {
		out[r.Path] = r
	}
	return out, nil
}

// SetMeta stores a metadata value
func (s *SQLiteMetaStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetMeta reads a metadata value; missing keys return ""
func (s *SQLiteMetaStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.Get(&value, `SELECT value FROM meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Clear removes all chunks and file records. Metadata is kept.
func (s *SQLiteMetaStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM chunks`); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM files`)
	return err
}

// Close closes the database connection
func (s *SQLiteMetaStore) Close() error {
	return s.db.Close()
}
