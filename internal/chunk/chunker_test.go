package chunk

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

const pythonSource = `import os
from sys import path

def hello(name):
    return "hi " + name

class Greeter:
    def greet(self):
        return "x"

    def other(self):
        pass

@decorator
def decorated():
    pass
`

func newTestChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := NewChunker(cfg)
	if err != nil {
		t.Fatalf("NewChunker failed: %v", err)
	}
	return c
}

func TestChunkPythonStructure(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	chunks := c.ChunkSource("/repo/app.py", []byte(pythonSource))

	want := []struct {
		kind     Kind
		nodeType string
		name     string
		start    int
		end      int
	}{
		{KindImport, "import_statement", "", 1, 1},
		{KindImport, "import_from_statement", "", 2, 2},
		{KindFunction, "function_definition", "hello", 4, 5},
		{KindClass, "class_definition", "Greeter", 7, 12},
		{KindFunction, "decorated_definition", "decorated", 14, 16},
	}

	if len(chunks) != len(want) {
		for _, ch := range chunks {
			t.Logf("got %s", ch)
		}
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		ch := chunks[i]
		if ch.Kind != w.kind {
			t.Errorf("chunk %d: expected kind %q, got %q", i, w.kind, ch.Kind)
		}
		if ch.Attr(AttrNodeType) != w.nodeType {
			t.Errorf("chunk %d: expected node type %q, got %q", i, w.nodeType, ch.Attr(AttrNodeType))
		}
		if ch.Name() != w.name {
			t.Errorf("chunk %d: expected name %q, got %q", i, w.name, ch.Name())
		}
		if ch.StartLine != w.start || ch.EndLine != w.end {
			t.Errorf("chunk %d: expected lines %d-%d, got %d-%d", i, w.start, w.end, ch.StartLine, ch.EndLine)
		}
		if ch.Language != "python" {
			t.Errorf("chunk %d: expected language python, got %q", i, ch.Language)
		}
		if ch.File != "/repo/app.py" {
			t.Errorf("chunk %d: expected file /repo/app.py, got %q", i, ch.File)
		}
	}

	// Methods inside the class are part of the class chunk only.
	if !strings.Contains(chunks[3].Content, "def greet") {
		t.Error("class chunk should contain its methods")
	}
}

func TestChunkOversizedFunction(t *testing.T) {
	var b strings.Builder
	b.WriteString("def big():\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "    value_%02d = %02d * 2\n", i, i)
	}
	src := b.String()

	cfg := Config{MaxChunkSize: 200, Overlap: 40}
	if utf8.RuneCountInString(src) < 3*cfg.MaxChunkSize {
		t.Fatalf("test source too small: %d", len(src))
	}

	c := newTestChunker(t, cfg)
	chunks := c.ChunkSource("big.py", []byte(src))
	if len(chunks) < 3 {
		t.Fatalf("expected the function to be split, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if utf8.RuneCountInString(ch.Content) > cfg.MaxChunkSize {
			t.Errorf("chunk %d exceeds cap: %d", i, utf8.RuneCountInString(ch.Content))
		}
		if ch.Kind != KindFunction || ch.Name() != "big" || ch.Attr(AttrNodeType) != "function_definition" {
			t.Errorf("chunk %d lost node metadata: %s %v", i, ch, ch.Attributes)
		}
	}
	if chunks[0].StartLine != 1 {
		t.Errorf("expected first piece at line 1, got %d", chunks[0].StartLine)
	}
	if last := chunks[len(chunks)-1]; last.EndLine != 31 {
		t.Errorf("expected last piece to end at line 31, got %d", last.EndLine)
	}
}

func TestChunkFallbacks(t *testing.T) {
	c := newTestChunker(t, Config{MaxChunkSize: 30, Overlap: 0})

	tests := []struct {
		name     string
		path     string
		src      string
		language string
	}{
		{"unknown extension", "notes.weird", "alpha beta\ngamma delta\nepsilon zeta\neta theta\n", UnknownLanguage},
		{"no extension", "Makefile", "all:\n\tgo build ./...\n", UnknownLanguage},
		{"script without definitions", "run.py", "print('hi')\nx = 1\ny = x + 1\n", "python"},
		{"syntax error", "bad.py", "def f(:\n  x = )\n", "python"},
		{"language without grammar", "styles.css", "body { color: red; }\np { margin: 0; }\n", "css"},
		{"markdown without headings", "README.md", "just some prose\nand more prose\n", "markdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := c.ChunkSource(tt.path, []byte(tt.src))
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}
			lines := strings.Split(strings.TrimSuffix(tt.src, "\n"), "\n")
			next := 1
			for _, ch := range chunks {
				if ch.Kind != KindText {
					t.Errorf("expected kind text, got %q", ch.Kind)
				}
				if ch.Language != tt.language {
					t.Errorf("expected language %q, got %q", tt.language, ch.Language)
				}
				if ch.StartLine > next {
					t.Errorf("gap before line %d", ch.StartLine)
				}
				if ch.EndLine >= next {
					next = ch.EndLine + 1
				}
			}
			if next != len(lines)+1 {
				t.Errorf("chunks cover up to line %d, file has %d lines", next-1, len(lines))
			}
		})
	}
}

func TestChunkOtherGrammars(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	tests := []struct {
		path string
		src  string
		kind Kind
		name string
	}{
		{"main.go", "package main\n\nfunc Hello() {\n\tprintln(\"hi\")\n}\n", KindFunction, "Hello"},
		{"add.js", "function add(a, b) {\n  return a + b;\n}\n", KindFunction, "add"},
		{"shape.ts", "interface Shape {\n  area(): number;\n}\n", KindInterface, "Shape"},
		{"lib.rs", "fn square(x: i32) -> i32 {\n    x * x\n}\n", KindFunction, "square"},
		{"Foo.java", "class Foo {\n  void bar() {}\n}\n", KindClass, "Foo"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			chunks := c.ChunkSource(tt.path, []byte(tt.src))
			var found *Chunk
			for _, ch := range chunks {
				if ch.Kind == tt.kind {
					found = ch
					break
				}
			}
			if found == nil {
				t.Fatalf("no %s chunk in %v", tt.kind, chunks)
			}
			if found.Name() != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, found.Name())
			}
		})
	}
}

func TestChunkMarkdownSections(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	src := "preamble\n\n# Title\nintro\n\n## Usage\nrun it\n"
	chunks := c.ChunkSource("doc.md", []byte(src))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(chunks))
	}

	if chunks[0].StartLine != 1 || chunks[0].EndLine != 1 || chunks[0].Name() != "" {
		t.Errorf("unexpected preamble chunk: %s", chunks[0])
	}
	if chunks[1].Name() != "Title" || chunks[1].Attr(AttrLevel) != "1" || chunks[1].StartLine != 3 || chunks[1].EndLine != 4 {
		t.Errorf("unexpected title section: %s %v", chunks[1], chunks[1].Attributes)
	}
	if chunks[2].Name() != "Usage" || chunks[2].Attr(AttrLevel) != "2" || chunks[2].StartLine != 6 || chunks[2].EndLine != 7 {
		t.Errorf("unexpected usage section: %s %v", chunks[2], chunks[2].Attributes)
	}
	for _, ch := range chunks {
		if ch.Kind != KindSection {
			t.Errorf("expected kind section, got %q", ch.Kind)
		}
	}
}

func TestChunkIdempotent(t *testing.T) {
	c := newTestChunker(t, Config{MaxChunkSize: 60, Overlap: 15})
	first := c.ChunkSource("app.py", []byte(pythonSource))
	second := c.ChunkSource("app.py", []byte(pythonSource))
	if !reflect.DeepEqual(first, second) {
		t.Error("chunking the same source twice gave different results")
	}

	other := newTestChunker(t, Config{MaxChunkSize: 60, Overlap: 15})
	if !reflect.DeepEqual(first, other.ChunkSource("app.py", []byte(pythonSource))) {
		t.Error("separate chunkers with the same config disagree")
	}
}

func TestChunkOrdered(t *testing.T) {
	c := newTestChunker(t, Config{MaxChunkSize: 40, Overlap: 10})
	chunks := c.ChunkSource("app.py", []byte(pythonSource))
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine < chunks[i-1].StartLine {
			t.Errorf("chunk %d starts before chunk %d", i, i-1)
		}
	}
}

func TestChunkDecoding(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())

	chunks := c.ChunkSource("bad.txt", []byte("a\xffb\n"))
	if len(chunks) != 1 || !strings.Contains(chunks[0].Content, "�") {
		t.Errorf("expected invalid byte to be replaced, got %v", chunks)
	}

	chunks = c.ChunkSource("bom.py", []byte("\xef\xbb\xbfdef f():\n    pass\n"))
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0].Content, "def f") || chunks[0].Name() != "f" {
		t.Errorf("expected BOM to be stripped, got %v", chunks)
	}

	if chunks := c.ChunkSource("empty.py", nil); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty file, got %d", len(chunks))
	}
}

func TestChunkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	if err := os.WriteFile(path, []byte(pythonSource), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c := newTestChunker(t, DefaultConfig())
	if chunks := c.ChunkFile(path); len(chunks) != 5 {
		t.Errorf("expected 5 chunks, got %d", len(chunks))
	}
	if chunks := c.ChunkFile(filepath.Join(dir, "missing.py")); chunks != nil {
		t.Errorf("expected nil for missing file, got %v", chunks)
	}
}

func TestChunkConcurrent(t *testing.T) {
	c := newTestChunker(t, DefaultConfig())
	want := c.ChunkSource("app.py", []byte(pythonSource))

	done := make(chan []*Chunk)
	for i := 0; i < 8; i++ {
		go func() {
			done <- c.ChunkSource("app.py", []byte(pythonSource))
		}()
	}
	for i := 0; i < 8; i++ {
		if got := <-done; !reflect.DeepEqual(want, got) {
			t.Error("concurrent chunking gave a different result")
		}
	}
}
