package chunk

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Chunker turns source files into chunks that follow syntactic boundaries
// where a grammar is available, falling back to line-based splitting.
//
// A Chunker is safe for concurrent use on different files.
type Chunker struct {
	cfg      Config
	splitter *Splitter

	mu      sync.Mutex
	parsers map[string]*sync.Pool
}

// NewChunker creates a chunker for the given configuration
func NewChunker(cfg Config) (*Chunker, error) {
	s, err := NewSplitter(cfg)
	if err != nil {
		return nil, err
	}
	return &Chunker{
		cfg:      cfg,
		splitter: s,
		parsers:  make(map[string]*sync.Pool),
	}, nil
}

// Config returns the chunker configuration
func (c *Chunker) Config() Config {
	return c.cfg
}

// ChunkFile reads and chunks a file. A file that cannot be read yields no
// chunks; the failure is logged and not returned.
func (c *Chunker) ChunkFile(path string) []*Chunk {
	raw, err := os.ReadFile(path)
	if err != nil {
		logrus.WithError(err).WithField("file", path).Warn("skipping unreadable file")
		return nil
	}
	return c.ChunkSource(path, raw)
}

// ChunkSource chunks raw file content. path is recorded on every chunk and
// used for language detection.
func (c *Chunker) ChunkSource(path string, raw []byte) []*Chunk {
	text := Decode(raw)
	if text == "" {
		return nil
	}

	lang, ok := DetectLanguage(path)
	if !ok {
		return c.splitter.Split(path, text, 1, KindText, UnknownLanguage, nil)
	}

	var chunks []*Chunk
	switch {
	case lang == "markdown":
		chunks = c.markdownChunks(path, text)
	default:
		var err error
		chunks, err = c.structuralChunks(path, lang, []byte(text))
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"file":     path,
				"language": lang,
			}).Debug("structural parse failed, using text chunks")
			chunks = nil
		}
	}

	if len(chunks) == 0 {
		return c.splitter.Split(path, text, 1, KindText, lang, nil)
	}
	return chunks
}

// structuralChunks parses src and extracts chunk-worthy nodes in document
// order. It returns no chunks when the language has no grammar.
func (c *Chunker) structuralChunks(path, lang string, src []byte) ([]*Chunk, error) {
	name := grammarName(path, lang)
	g, ok := grammars[name]
	if !ok {
		return nil, nil
	}

	pool := c.parserPool(name, g)
	parser := pool.Get().(*sitter.Parser)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	pool.Put(parser)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse %s: no tree", path)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.IsNull() {
		return nil, fmt.Errorf("parse %s: empty tree", path)
	}

	var chunks []*Chunk
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if g.nodes[node.Type()] {
			chunks = append(chunks, c.nodeChunks(path, lang, node, src)...)
			continue
		}

		// Push children in reverse so the leftmost child is visited first.
		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			if child := node.Child(i); child != nil && !child.IsNull() {
				stack = append(stack, child)
			}
		}
	}
	return chunks, nil
}

// nodeChunks turns one chunk-worthy node into a chunk, or into several when
// its text is larger than the size cap.
func (c *Chunker) nodeChunks(path, lang string, node *sitter.Node, src []byte) []*Chunk {
	content := string(src[node.StartByte():node.EndByte()])
	if strings.TrimSpace(content) == "" {
		return nil
	}

	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1
	// A node that swallowed its line terminator ends at column 0 of the next row.
	if node.EndPoint().Column == 0 && end > start {
		end--
		content = strings.TrimSuffix(strings.TrimSuffix(content, "\n"), "\r")
	}

	nodeType := node.Type()
	attrs := map[string]string{AttrNodeType: nodeType}
	kind := kindOf(nodeType)

	named := node
	if nodeType == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil && !def.IsNull() {
			named = def
			kind = kindOf(def.Type())
		}
	}
	if name := declaredName(named, src); name != "" {
		attrs[AttrName] = name
	}

	if utf8.RuneCountInString(content) <= c.cfg.MaxChunkSize {
		return []*Chunk{New(path, lang, kind, content, start, end, attrs)}
	}
	return c.splitter.Split(path, content, start, kind, lang, attrs)
}

// declaredName returns the text of the first identifier-like immediate child.
func declaredName(node *sitter.Node, src []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || child.IsNull() {
			continue
		}
		if nameNodeTypes[child.Type()] {
			return child.Content(src)
		}
	}
	return ""
}

// parserPool returns the lazily created parser pool for a grammar.
// tree-sitter parsers are not safe for concurrent use, so each parse
// borrows one from the pool.
func (c *Chunker) parserPool(name string, g grammar) *sync.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.parsers[name]; ok {
		return p
	}
	p := &sync.Pool{
		New: func() any {
			parser := sitter.NewParser()
			parser.SetLanguage(g.language())
			return parser
		},
	}
	c.parsers[name] = p
	return p
}

// Decode converts raw bytes to text. A UTF-8 or UTF-16 byte order mark is
// honoured and invalid sequences are replaced with U+FFFD.
func Decode(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(decoded)
}
