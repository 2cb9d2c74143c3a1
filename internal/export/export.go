// Package export renders search results in file formats.
package export

import (
	"fmt"

	"github.com/ihavespoons/ctxai/internal/index"
)

const (
	toolName    = "ctxai"
	toolVersion = "1.0.0"
)

// Exporter is the interface for all export formats
type Exporter interface {
	Export(results *index.SearchResults) ([]byte, error)
	ContentType() string
	FileExtension() string
	FormatName() string
}

// ExporterWithIndex is an exporter that records the index it searched
type ExporterWithIndex interface {
	Exporter
	SetIndexName(name string)
}

// ValidFormats contains all supported export formats
var ValidFormats = []string{"json", "md", "markdown", "csv"}

// GetExporter returns an exporter for the given format
func GetExporter(format string) (Exporter, error) {
	switch format {
	case "json":
		return NewJSONExporter(), nil
	case "md", "markdown":
		return NewMarkdownExporter(), nil
	case "csv":
		return NewCSVExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s (valid: %v)", format, ValidFormats)
	}
}

// ExportResults exports search results of the named index to format
func ExportResults(results *index.SearchResults, format, indexName string) ([]byte, error) {
	exporter, err := GetExporter(format)
	if err != nil {
		return nil, err
	}

	if exp, ok := exporter.(ExporterWithIndex); ok {
		exp.SetIndexName(indexName)
	}

	return exporter.Export(results)
}
