package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/ihavespoons/ctxai/internal/index"
)

// CSVExporter exports search results to CSV format, one row per chunk
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export exports search results to CSV format
func (e *CSVExporter) Export(results *index.SearchResults) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	headers := []string{
		"Rank",
		"Score",
		"File",
		"Line Start",
		"Line End",
		"Kind",
		"Language",
		"Name",
		"Content",
	}
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for i, r := range results.Results {
		c := r.Chunk
		row := []string{
			strconv.Itoa(i + 1),
			fmt.Sprintf("%.4f", r.Score),
			c.File,
			strconv.Itoa(c.StartLine),
			strconv.Itoa(c.EndLine),
			string(c.Kind),
			c.Language,
			c.Name(),
			c.Content,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}

	return buf.Bytes(), nil
}

// ContentType returns the MIME type for CSV
func (e *CSVExporter) ContentType() string {
	return "text/csv"
}

// FileExtension returns the file extension for CSV
func (e *CSVExporter) FileExtension() string {
	return ".csv"
}

// FormatName returns the format name
func (e *CSVExporter) FormatName() string {
	return "csv"
}
