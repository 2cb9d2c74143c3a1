// Package traverse walks a source tree and yields the files worth indexing.
package traverse

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sirupsen/logrus"
)

// IgnoreFile is the ignore-rule file read from the traversal root.
const IgnoreFile = ".gitignore"

var (
	// ErrRootNotFound is returned when the traversal root does not exist
	ErrRootNotFound = errors.New("root path does not exist")
	// ErrRootNotDir is returned when the traversal root is not a directory
	ErrRootNotDir = errors.New("root path is not a directory")
)

// Config describes one traversal.
type Config struct {
	// Root is the directory to walk
	Root string `json:"root" yaml:"root"`
	// Include limits files to those matching at least one glob
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
	// Exclude adds globs to the default exclude set
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	// FollowIgnoreFile applies the root .gitignore when set
	FollowIgnoreFile bool `json:"follow_ignore_file" yaml:"follow_ignore_file"`
}

// DefaultConfig returns a configuration that honours the root ignore file
func DefaultConfig(root string) Config {
	return Config{Root: root, FollowIgnoreFile: true}
}

// Option customises a Traverser
type Option func(*Traverser)

// WithFS walks fsys instead of the operating system directory at Root.
// fsys must be rooted at Root.
func WithFS(fsys fs.FS) Option {
	return func(t *Traverser) {
		t.fsys = fsys
	}
}

// Traverser walks a root directory and yields eligible files. The ignore
// rules are loaded once; every Walk call is otherwise independent.
type Traverser struct {
	cfg    Config
	root   string
	fsys   fs.FS
	filter *Filter
}

// New validates the root and loads its ignore file.
func New(cfg Config, opts ...Option) (*Traverser, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	t := &Traverser{cfg: cfg, root: root}
	for _, opt := range opts {
		opt(t)
	}

	var info fs.FileInfo
	if t.fsys == nil {
		info, err = os.Stat(root)
		t.fsys = os.DirFS(root)
	} else {
		info, err = fs.Stat(t.fsys, ".")
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}

	var rules *ignore.GitIgnore
	if cfg.FollowIgnoreFile {
		rules = loadIgnoreFile(t.fsys)
	}
	t.filter = NewFilter(t.fsys, rules, cfg.Include, cfg.Exclude)
	return t, nil
}

// loadIgnoreFile compiles the root ignore file. A missing or unreadable file
// means no rules.
func loadIgnoreFile(fsys fs.FS) *ignore.GitIgnore {
	data, err := fs.ReadFile(fsys, IgnoreFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logrus.WithError(err).Warn("could not read ignore file")
		}
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	return ignore.CompileIgnoreLines(lines...)
}

// Root returns the absolute traversal root
func (t *Traverser) Root() string {
	return t.root
}

// Filter returns the path filter used by the traverser
func (t *Traverser) Filter() *Filter {
	return t.filter
}

type dirEntry struct {
	rel  string // slash-separated, relative to root
	real string // resolved filesystem path, used to break symlink cycles
}

// Walk returns a lazy sequence of absolute file paths. Directories are
// visited depth first with siblings in lexical order. Excluded directories
// are pruned before they are read. Symlinked directories are followed
// once; a directory whose real path was already visited is skipped.
func (t *Traverser) Walk() iter.Seq[string] {
	return func(yield func(string) bool) {
		rootReal := t.resolve(".")
		visited := map[string]bool{rootReal: true}
		stack := []dirEntry{{rel: ".", real: rootReal}}

		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			entries, err := fs.ReadDir(t.fsys, dir.rel)
			if err != nil {
				logrus.WithError(err).WithField("dir", dir.rel).Warn("skipping unreadable directory")
				continue
			}

			var subdirs []dirEntry
			for _, e := range entries {
				rel := path.Join(dir.rel, e.Name())
				isDir := e.IsDir()
				real := filepath.Join(dir.real, e.Name())

				if e.Type()&fs.ModeSymlink != 0 {
					info, err := fs.Stat(t.fsys, rel)
					if err != nil {
						continue // dangling link
					}
					isDir = info.IsDir()
					if isDir {
						real = t.resolve(rel)
					}
				} else if !isDir && !e.Type().IsRegular() {
					continue // sockets, pipes, devices
				}

				if isDir {
					if visited[real] || t.filter.ShouldExclude(rel, true) {
						continue
					}
					visited[real] = true
					subdirs = append(subdirs, dirEntry{rel: rel, real: real})
					continue
				}

				if t.filter.ShouldExclude(rel, false) ||
					!t.filter.ShouldIncludeFile(rel) ||
					t.filter.IsBinary(rel) {
					continue
				}
				if !yield(filepath.Join(t.root, filepath.FromSlash(rel))) {
					return
				}
			}

			for i := len(subdirs) - 1; i >= 0; i-- {
				stack = append(stack, subdirs[i])
			}
		}
	}
}

// Files collects the whole walk.
func (t *Traverser) Files() []string {
	var files []string
	for f := range t.Walk() {
		files = append(files, f)
	}
	return files
}

// Count returns the number of files the walk would yield.
func (t *Traverser) Count() int {
	n := 0
	for range t.Walk() {
		n++
	}
	return n
}

// resolve returns the real path of rel, or its lexical path when it cannot
// be resolved.
func (t *Traverser) resolve(rel string) string {
	p := filepath.Join(t.root, filepath.FromSlash(rel))
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	return p
}

// Walk is a convenience wrapper that builds a Traverser and returns its
// walk.
func Walk(cfg Config) (iter.Seq[string], error) {
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return t.Walk(), nil
}
