package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"slices"
)

// Kind describes why a span of source was chosen as a chunk.
type Kind string

const (
	// KindFunction represents a function definition
	KindFunction Kind = "function"
	// KindMethod represents a method definition
	KindMethod Kind = "method"
	// KindClass represents a class, struct or object definition
	KindClass Kind = "class"
	// KindInterface represents an interface or trait
	KindInterface Kind = "interface"
	// KindType represents a type alias or type declaration
	KindType Kind = "type"
	// KindImport represents an import, export or use statement
	KindImport Kind = "import"
	// KindModule represents a module or namespace
	KindModule Kind = "module"
	// KindSection represents a markdown heading section
	KindSection Kind = "section"
	// KindText represents a plain line-based chunk
	KindText Kind = "text"
)

// Well-known attribute keys.
const (
	AttrName     = "name"
	AttrNodeType = "node_type"
	AttrLevel    = "level"
)

// UnknownLanguage is the language tag of files with no detected language.
const UnknownLanguage = "unknown"

// Chunk is one unit of extracted source text. Chunks are built by New and
// are not modified afterwards.
type Chunk struct {
	// ID is a unique identifier (hash of file path + line range + content)
	ID string `json:"id" yaml:"id"`
	// File is the path of the originating file
	File string `json:"file" yaml:"file"`
	// Language is the detected language or "unknown"
	Language string `json:"language" yaml:"language"`
	// Kind is the chunk kind (function, class, text, or a raw node type)
	Kind Kind `json:"kind" yaml:"kind"`
	// Content is the exact source text covered by the chunk
	Content string `json:"content" yaml:"content"`
	// StartLine is the 1-indexed start line
	StartLine int `json:"start_line" yaml:"start_line"`
	// EndLine is the 1-indexed, inclusive end line
	EndLine int `json:"end_line" yaml:"end_line"`
	// Attributes holds auxiliary facts such as the declared name
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	// ContentHash is for change detection
	ContentHash string `json:"content_hash" yaml:"content_hash"`
}

// GenerateID generates a unique ID for a chunk based on file path, position and content.
// The position is part of the key so identical bodies in one file stay distinct.
func GenerateID(file string, startLine, endLine int, content string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d:%s", file, startLine, endLine, content)))
	return hex.EncodeToString(hash[:16])
}

// GenerateContentHash generates a hash of the content for change detection
func GenerateContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8])
}

// New creates a chunk with computed ID and content hash. The attribute map is
// copied. It panics if startLine > endLine or startLine < 1, which would be a
// bug in the caller.
func New(file, language string, kind Kind, content string, startLine, endLine int, attrs map[string]string) *Chunk {
	if startLine < 1 || startLine > endLine {
		panic(fmt.Sprintf("chunk: invalid line range %d-%d for %s", startLine, endLine, file))
	}
	if language == "" {
		language = UnknownLanguage
	}
	c := &Chunk{
		File:        file,
		Language:    language,
		Kind:        kind,
		Content:     content,
		StartLine:   startLine,
		EndLine:     endLine,
		ContentHash: GenerateContentHash(content),
	}
	if len(attrs) > 0 {
		c.Attributes = maps.Clone(attrs)
	}
	c.ID = GenerateID(file, startLine, endLine, content)
	return c
}

// Attr returns an attribute value, or "" when it is not set.
func (c *Chunk) Attr(key string) string {
	return c.Attributes[key]
}

// Name returns the declared name of the chunk, if one was extracted.
func (c *Chunk) Name() string {
	return c.Attributes[AttrName]
}

// LineCount returns the number of lines in the chunk
func (c *Chunk) LineCount() int {
	return c.EndLine - c.StartLine + 1
}

// String returns a human-readable representation of the chunk
func (c *Chunk) String() string {
	if name := c.Name(); name != "" {
		return fmt.Sprintf("%s:%s %s (%s) [%d-%d]", c.File, name, c.Kind, c.Language, c.StartLine, c.EndLine)
	}
	return fmt.Sprintf("%s %s (%s) [%d-%d]", c.File, c.Kind, c.Language, c.StartLine, c.EndLine)
}

// FilterByKind keeps the chunks whose kind is one of kinds. With no kinds
// the input is returned unchanged.
func FilterByKind(chunks []*Chunk, kinds ...Kind) []*Chunk {
	if len(kinds) == 0 {
		return chunks
	}
	var result []*Chunk
	for _, c := range chunks {
		if slices.Contains(kinds, c.Kind) {
			result = append(result, c)
		}
	}
	return result
}
