package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestSplitter(t *testing.T, max, overlap int) *Splitter {
	t.Helper()
	s, err := NewSplitter(Config{MaxChunkSize: max, Overlap: overlap})
	if err != nil {
		t.Fatalf("NewSplitter failed: %v", err)
	}
	return s
}

type span struct {
	start, end int
	content    string
}

func spans(chunks []*Chunk) []span {
	out := make([]span, len(chunks))
	for i, c := range chunks {
		out[i] = span{c.StartLine, c.EndLine, c.Content}
	}
	return out
}

func TestSplitBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		overlap int
		text    string
		want    []span
	}{
		{
			name:    "no carry when line exceeds overlap",
			max:     10,
			overlap: 3,
			text:    "aaaa\nbbbb\ncccc\ndd\ne\n",
			want: []span{
				{1, 2, "aaaa\nbbbb"},
				{3, 5, "cccc\ndd\ne"},
			},
		},
		{
			name:    "line exactly at overlap is carried",
			max:     6,
			overlap: 2,
			text:    "ab\ncd\nef\ngh",
			want: []span{
				{1, 2, "ab\ncd"},
				{2, 3, "cd\nef"},
				{3, 4, "ef\ngh"},
			},
		},
		{
			name:    "line that would overflow starts a new chunk",
			max:     10,
			overlap: 0,
			text:    "aaaaaa\nbbbbbb",
			want: []span{
				{1, 1, "aaaaaa"},
				{2, 2, "bbbbbb"},
			},
		},
		{
			name:    "long line forms its own chunk",
			max:     5,
			overlap: 2,
			text:    "a\nbbbbbbbbbbbb\nc",
			want: []span{
				{1, 1, "a"},
				{2, 2, "bbbbbbbbbbbb"},
				{3, 3, "c"},
			},
		},
		{
			name:    "short text is one chunk",
			max:     100,
			overlap: 10,
			text:    "one\ntwo\nthree\n",
			want: []span{
				{1, 3, "one\ntwo\nthree"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSplitter(t, tt.max, tt.overlap)
			got := spans(s.Split("f.txt", tt.text, 1, KindText, "", nil))
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d chunks, got %d: %+v", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d: expected %+v, got %+v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestSplitEmpty(t *testing.T) {
	s := newTestSplitter(t, 10, 2)
	if chunks := s.Split("f.txt", "", 1, KindText, "", nil); len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestSplitAbsoluteLines(t *testing.T) {
	s := newTestSplitter(t, 8, 0)
	chunks := s.Split("f.go", "abcd\nefgh\nijkl", 40, KindFunction, "go", map[string]string{AttrName: "F"})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.StartLine != 40+i || c.EndLine != 40+i {
			t.Errorf("chunk %d: expected line %d, got %d-%d", i, 40+i, c.StartLine, c.EndLine)
		}
		if c.Kind != KindFunction || c.Language != "go" || c.Name() != "F" {
			t.Errorf("chunk %d lost metadata: %s", i, c)
		}
	}
}

func TestSplitUnknownLanguage(t *testing.T) {
	s := newTestSplitter(t, 100, 0)
	chunks := s.Split("f", "x", 1, KindText, "", nil)
	if chunks[0].Language != UnknownLanguage {
		t.Errorf("expected language %q, got %q", UnknownLanguage, chunks[0].Language)
	}
}

// generated builds deterministic text with a spread of line lengths.
func generated(lines int) string {
	var b strings.Builder
	for i := 0; i < lines; i++ {
		n := (i*37 + 11) % 53
		fmt.Fprintf(&b, "%03d %s\n", i, strings.Repeat("x", n))
	}
	return b.String()
}

func TestSplitProperties(t *testing.T) {
	configs := []Config{
		{MaxChunkSize: 1, Overlap: 0},
		{MaxChunkSize: 40, Overlap: 0},
		{MaxChunkSize: 80, Overlap: 20},
		{MaxChunkSize: 200, Overlap: 60},
		{MaxChunkSize: 1000, Overlap: 100},
		{MaxChunkSize: 120, Overlap: 500},
	}
	text := generated(150)
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")

	for _, cfg := range configs {
		t.Run(fmt.Sprintf("max=%d,overlap=%d", cfg.MaxChunkSize, cfg.Overlap), func(t *testing.T) {
			s := newTestSplitter(t, cfg.MaxChunkSize, cfg.Overlap)
			chunks := s.Split("gen.txt", text, 1, KindText, "", nil)
			if len(chunks) == 0 {
				t.Fatal("expected chunks")
			}

			if chunks[0].StartLine != 1 {
				t.Errorf("first chunk starts at %d, expected 1", chunks[0].StartLine)
			}
			if last := chunks[len(chunks)-1]; last.EndLine != len(lines) {
				t.Errorf("last chunk ends at %d, expected %d", last.EndLine, len(lines))
			}

			for i, c := range chunks {
				if c.StartLine > c.EndLine {
					t.Fatalf("chunk %d has empty range %d-%d", i, c.StartLine, c.EndLine)
				}
				want := strings.Join(lines[c.StartLine-1:c.EndLine], "\n")
				if c.Content != want {
					t.Fatalf("chunk %d content does not match lines %d-%d", i, c.StartLine, c.EndLine)
				}
				if c.LineCount() > 1 && utf8.RuneCountInString(c.Content) > cfg.MaxChunkSize {
					t.Errorf("chunk %d has %d chars, cap is %d", i, utf8.RuneCountInString(c.Content), cfg.MaxChunkSize)
				}
				if i == 0 {
					continue
				}
				prev := chunks[i-1]
				if c.StartLine < prev.StartLine {
					t.Errorf("chunk %d starts before chunk %d", i, i-1)
				}
				if c.StartLine > prev.EndLine+1 {
					t.Errorf("gap between chunk %d (ends %d) and chunk %d (starts %d)", i-1, prev.EndLine, i, c.StartLine)
				}
				if c.EndLine <= prev.EndLine {
					t.Errorf("chunk %d does not advance past chunk %d", i, i-1)
				}
				// Lines shared with the previous chunk are its tail and fit the overlap budget.
				if shared := prev.EndLine - c.StartLine + 1; shared > 0 {
					tail := lines[c.StartLine-1 : prev.EndLine]
					size := 0
					for _, l := range tail {
						size += utf8.RuneCountInString(l)
					}
					if size > cfg.Overlap {
						t.Errorf("chunk %d carries %d chars, overlap is %d", i, size, cfg.Overlap)
					}
				}
			}
		})
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	s := newTestSplitter(t, 50, 20)
	chunks := s.Split("f.txt", generated(40), 1, KindText, "", nil)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	carried := 0
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine <= chunks[i-1].EndLine {
			carried++
			prevLines := strings.Split(chunks[i-1].Content, "\n")
			k := chunks[i-1].EndLine - chunks[i].StartLine + 1
			head := strings.Split(chunks[i].Content, "\n")[:k]
			if strings.Join(prevLines[len(prevLines)-k:], "\n") != strings.Join(head, "\n") {
				t.Errorf("chunk %d does not start with the tail of chunk %d", i, i-1)
			}
		}
	}
	if carried == 0 {
		t.Error("expected at least one chunk to carry overlap")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if err := (Config{MaxChunkSize: 0}).Validate(); err == nil {
		t.Error("expected error for zero max chunk size")
	}
	if err := (Config{MaxChunkSize: 10, Overlap: -1}).Validate(); err == nil {
		t.Error("expected error for negative overlap")
	}
}
