package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkSize is the default soft cap on chunk size in characters
	DefaultMaxChunkSize = 1000
	// DefaultOverlap is the default number of trailing characters carried forward
	DefaultOverlap = 100
)

// Config controls chunk sizing. Sizes are counted in characters (runes).
type Config struct {
	MaxChunkSize int `json:"max_chunk_size" yaml:"max_chunk_size"`
	Overlap      int `json:"overlap" yaml:"overlap"`
}

// DefaultConfig returns the default chunker configuration
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: DefaultMaxChunkSize,
		Overlap:      DefaultOverlap,
	}
}

// Validate checks the configuration for usable values
func (c Config) Validate() error {
	if c.MaxChunkSize < 1 {
		return fmt.Errorf("max chunk size must be at least 1, got %d", c.MaxChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must not be negative, got %d", c.Overlap)
	}
	return nil
}

// Splitter cuts text into line-aligned chunks of roughly MaxChunkSize
// characters, repeating up to Overlap characters of trailing lines at the
// start of the next chunk.
type Splitter struct {
	cfg Config
}

// NewSplitter creates a splitter for the given configuration
func NewSplitter(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{cfg: cfg}, nil
}

// Split splits text whose first line is startLine in the source file.
// Every produced chunk carries kind, language and a copy of attrs.
func (s *Splitter) Split(file, text string, startLine int, kind Kind, language string, attrs map[string]string) []*Chunk {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	var (
		chunks    []*Chunk
		buf       []string
		bufStart  = startLine
		size      int // runes in buf plus one separator per line
		unemitted int // lines in buf not yet part of an emitted chunk
	)

	closeBuf := func() {
		end := bufStart + len(buf) - 1
		if unemitted > 0 {
			chunks = append(chunks, New(file, language, kind, strings.Join(buf, "\n"), bufStart, end, attrs))
			unemitted = 0
		}
		carried, carriedSize := s.overlapTail(buf)
		buf = append([]string(nil), buf[len(buf)-carried:]...)
		size = carriedSize
		bufStart = end - carried + 1
	}

	for i, line := range lines {
		n := utf8.RuneCountInString(line) + 1

		// Content is size-1 runes; never let a chunk grow past the cap
		// by adding a line to a buffer that already holds new lines.
		if unemitted > 0 && size+n-1 > s.cfg.MaxChunkSize {
			closeBuf()
		}
		// Carried lines give way to the next line when both do not fit.
		for len(buf) > 0 && size+n-1 > s.cfg.MaxChunkSize {
			size -= utf8.RuneCountInString(buf[0]) + 1
			buf = buf[1:]
			bufStart++
		}

		if len(buf) == 0 {
			bufStart = startLine + i
		}
		buf = append(buf, line)
		size += n
		unemitted++

		if size >= s.cfg.MaxChunkSize {
			closeBuf()
		}
	}

	if unemitted > 0 {
		closeBuf()
	}
	return chunks
}

// overlapTail returns how many trailing lines of buf fit in the overlap
// budget and their cumulative size. A line is carried while the running
// total plus its length stays within Overlap. At least one line of buf is
// always left behind so the next chunk makes progress.
func (s *Splitter) overlapTail(buf []string) (count, size int) {
	if s.cfg.Overlap <= 0 {
		return 0, 0
	}
	for j := len(buf) - 1; j > 0; j-- {
		n := utf8.RuneCountInString(buf[j])
		if size+n > s.cfg.Overlap {
			break
		}
		size += n + 1
		count++
	}
	return count, size
}

// splitLines splits text on "\n". A single trailing newline does not
// produce an extra empty line and "\r\n" endings keep their "\r".
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
