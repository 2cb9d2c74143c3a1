package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/ihavespoons/ctxai/internal/index"
)

// MarkdownExporter exports search results as a markdown report with fenced
// code blocks
type MarkdownExporter struct {
	toolName  string
	indexName string
}

// NewMarkdownExporter creates a new markdown exporter
func NewMarkdownExporter() *MarkdownExporter {
	return &MarkdownExporter{toolName: toolName}
}

// SetIndexName sets the index name for the report
func (e *MarkdownExporter) SetIndexName(name string) {
	e.indexName = name
}

// Export exports search results to markdown
func (e *MarkdownExporter) Export(results *index.SearchResults) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Search results: %s\n\n", results.Query)
	if e.indexName != "" {
		fmt.Fprintf(&buf, "- **Index:** %s\n", e.indexName)
	}
	fmt.Fprintf(&buf, "- **Mode:** %s\n", results.Mode)
	fmt.Fprintf(&buf, "- **Results:** %d\n", len(results.Results))
	fmt.Fprintf(&buf, "- **Generated:** %s by %s\n\n", time.Now().Format("2006-01-02 15:04:05"), e.toolName)

	if len(results.Results) == 0 {
		buf.WriteString("No results found.\n")
		return buf.Bytes(), nil
	}

	for i, r := range results.Results {
		c := r.Chunk
		title := fmt.Sprintf("%s:%d-%d", c.File, c.StartLine, c.EndLine)
		if name := c.Name(); name != "" {
			title = fmt.Sprintf("%s `%s`", title, name)
		}
		fmt.Fprintf(&buf, "## %d. %s\n\n", i+1, title)
		fmt.Fprintf(&buf, "%s (%s), score %.3f\n\n", c.Kind, c.Language, r.Score)

		fence := codeFence(c.Content)
		fmt.Fprintf(&buf, "%s%s\n%s\n%s\n\n", fence, c.Language, strings.TrimRight(c.Content, "\n"), fence)
	}

	return buf.Bytes(), nil
}

// codeFence returns a backtick fence longer than any run inside content
func codeFence(content string) string {
	longest, run := 0, 0
	for _, r := range content {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	if longest < 3 {
		return "```"
	}
	return strings.Repeat("`", longest+1)
}

// ContentType returns the MIME type for markdown
func (e *MarkdownExporter) ContentType() string {
	return "text/markdown"
}

// FileExtension returns the file extension for markdown
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// FormatName returns the format name
func (e *MarkdownExporter) FormatName() string {
	return "markdown"
}
