package export

import (
	"encoding/json"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
)

// JSONReport represents a JSON export report
type JSONReport struct {
	Metadata JSONMetadata          `json:"metadata"`
	Summary  JSONSummary           `json:"summary"`
	Results  []*index.SearchResult `json:"results"`
}

// JSONMetadata contains report metadata
type JSONMetadata struct {
	Tool        string    `json:"tool"`
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Index       string    `json:"index,omitempty"`
	Query       string    `json:"query"`
	Mode        string    `json:"mode"`
	DurationMS  int64     `json:"duration_ms"`
}

// JSONSummary contains summary statistics
type JSONSummary struct {
	Total      int            `json:"total"`
	Files      int            `json:"files"`
	ByLanguage map[string]int `json:"by_language"`
	ByKind     map[string]int `json:"by_kind"`
}

// JSONExporter exports search results to JSON format
type JSONExporter struct {
	toolName    string
	toolVersion string
	indexName   string
}

// NewJSONExporter creates a new JSON exporter
func NewJSONExporter() *JSONExporter {
	return &JSONExporter{
		toolName:    toolName,
		toolVersion: toolVersion,
	}
}

// SetIndexName sets the index name for the report
func (e *JSONExporter) SetIndexName(name string) {
	e.indexName = name
}

// Export exports search results to JSON format
func (e *JSONExporter) Export(results *index.SearchResults) ([]byte, error) {
	summary := JSONSummary{
		Total:      len(results.Results),
		ByLanguage: make(map[string]int),
		ByKind:     make(map[string]int),
	}

	files := make(map[string]bool)
	for _, r := range results.Results {
		summary.ByLanguage[r.Chunk.Language]++
		summary.ByKind[string(r.Chunk.Kind)]++
		files[r.Chunk.File] = true
	}
	summary.Files = len(files)

	hits := results.Results
	if hits == nil {
		hits = []*index.SearchResult{}
	}

	report := JSONReport{
		Metadata: JSONMetadata{
			Tool:        e.toolName,
			Version:     e.toolVersion,
			GeneratedAt: time.Now(),
			Index:       e.indexName,
			Query:       results.Query,
			Mode:        string(results.Mode),
			DurationMS:  results.Duration.Milliseconds(),
		},
		Summary: summary,
		Results: hits,
	}

	return json.MarshalIndent(report, "", "  ")
}

// ContentType returns the MIME type for JSON
func (e *JSONExporter) ContentType() string {
	return "application/json"
}

// FileExtension returns the file extension for JSON
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// FormatName returns the format name
func (e *JSONExporter) FormatName() string {
	return "json"
}
