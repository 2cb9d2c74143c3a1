package traverse

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// binaryProbeSize is how many leading bytes are checked for a NUL byte.
const binaryProbeSize = 1024

// DefaultExcludes are path segments that are never traversed: version
// control metadata, dependency and cache directories, build output.
var DefaultExcludes = []string{
	".git", ".svn", ".hg",
	"__pycache__", "node_modules", ".venv", "venv", ".env",
	".ctxai", "dist", "build",
	".pytest_cache", ".mypy_cache", ".ruff_cache", ".tox",
	"*.pyc", "*.pyo", "*.egg-info",
}

// binaryExtensions are skipped without reading the file.
var binaryExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".so": true, ".dll": true, ".dylib": true,
	".exe": true, ".bin": true, ".dat": true, ".db": true, ".sqlite": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
}

// Filter decides which paths under a root are eligible. Paths are
// slash-separated and relative to the root of fsys.
type Filter struct {
	fsys    fs.FS
	ignore  *ignore.GitIgnore
	include []pattern
	exclude []pattern
}

// pattern is a user glob. Globs without a slash match a single path
// segment. Globs with a slash match the whole relative path or, unless
// anchored with a leading slash, any trailing part of it.
type pattern struct {
	glob     string
	anchored bool
	segment  bool
}

func (p pattern) matchSegment(seg string) bool {
	ok, _ := doublestar.Match(p.glob, seg)
	return ok
}

func (p pattern) matchPath(rel string) bool {
	if ok, _ := doublestar.Match(p.glob, rel); ok {
		return true
	}
	if p.anchored || strings.HasPrefix(p.glob, "**/") {
		return false
	}
	ok, _ := doublestar.Match("**/"+p.glob, rel)
	return ok
}

// NewFilter creates a filter. rules may be nil when no ignore file is used.
func NewFilter(fsys fs.FS, rules *ignore.GitIgnore, include, exclude []string) *Filter {
	return &Filter{
		fsys:    fsys,
		ignore:  rules,
		include: compilePatterns(include),
		exclude: compilePatterns(exclude),
	}
}

// ShouldExclude reports whether rel matches a default exclude, the ignore
// rules, or a user exclude pattern. A directory match prunes its subtree.
func (f *Filter) ShouldExclude(rel string, isDir bool) bool {
	segments := strings.Split(rel, "/")
	for _, seg := range segments {
		for _, name := range DefaultExcludes {
			if ok, _ := doublestar.Match(name, seg); ok {
				return true
			}
		}
	}

	if f.ignore != nil {
		if f.ignore.MatchesPath(rel) {
			return true
		}
		if isDir && f.ignore.MatchesPath(rel+"/") {
			return true
		}
	}

	for _, p := range f.exclude {
		if p.segment {
			for _, seg := range segments {
				if p.matchSegment(seg) {
					return true
				}
			}
			continue
		}
		if p.matchPath(rel) || (isDir && p.matchPath(rel+"/")) {
			return true
		}
	}
	return false
}

// ShouldIncludeFile reports whether rel matches an include pattern. With no
// include patterns every file is included.
func (f *Filter) ShouldIncludeFile(rel string) bool {
	if len(f.include) == 0 {
		return true
	}
	base := path.Base(rel)
	for _, p := range f.include {
		if p.segment {
			if p.matchSegment(base) {
				return true
			}
			continue
		}
		if p.matchPath(rel) {
			return true
		}
	}
	return false
}

// IsBinary reports whether rel looks like a binary file. Files that cannot
// be opened or read count as binary.
func (f *Filter) IsBinary(rel string) bool {
	if binaryExtensions[strings.ToLower(path.Ext(rel))] {
		return true
	}

	file, err := f.fsys.Open(rel)
	if err != nil {
		return true
	}
	defer func() { _ = file.Close() }()

	buf := make([]byte, binaryProbeSize)
	n, err := io.ReadFull(file, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

func compilePatterns(globs []string) []pattern {
	out := make([]pattern, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(strings.ReplaceAll(g, "\\", "/"))
		g = strings.TrimPrefix(g, "./")
		anchored := strings.HasPrefix(g, "/")
		g = strings.Trim(g, "/")
		if g == "" {
			continue
		}
		out = append(out, pattern{
			glob:     g,
			anchored: anchored,
			segment:  !anchored && !strings.Contains(g, "/"),
		})
	}
	return out
}
