package chunk

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type heading struct {
	line  int // 1-indexed
	level int
	title string
}

// markdownChunks cuts a markdown document into one chunk per heading
// section. Text before the first heading becomes its own section. Returns
// nil when the document has no headings.
func (c *Chunker) markdownChunks(path, doc string) []*Chunk {
	src := []byte(doc)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	var heads []heading
	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		offset := h.Lines().At(0).Start
		heads = append(heads, heading{
			line:  strings.Count(doc[:offset], "\n") + 1,
			level: h.Level,
			title: strings.TrimSpace(string(h.Text(src))),
		})
	}
	if len(heads) == 0 {
		return nil
	}

	lines := splitLines(doc)
	var chunks []*Chunk

	section := func(start, end int, attrs map[string]string) {
		// Trim trailing blank lines so sections end on content.
		for end > start && strings.TrimSpace(lines[end-1]) == "" {
			end--
		}
		body := strings.Join(lines[start-1:end], "\n")
		if strings.TrimSpace(body) == "" {
			return
		}
		if utf8.RuneCountInString(body) <= c.cfg.MaxChunkSize {
			chunks = append(chunks, New(path, "markdown", KindSection, body, start, end, attrs))
			return
		}
		chunks = append(chunks, c.splitter.Split(path, body, start, KindSection, "markdown", attrs)...)
	}

	if heads[0].line > 1 {
		section(1, heads[0].line-1, nil)
	}
	for i, h := range heads {
		end := len(lines)
		if i+1 < len(heads) {
			end = heads[i+1].line - 1
		}
		section(h.line, end, map[string]string{
			AttrName:  h.title,
			AttrLevel: strconv.Itoa(h.level),
		})
	}
	return chunks
}
