// Package config manages the ctxai home directory and its config.yaml.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ihavespoons/ctxai/internal/embedding"
	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv overrides the home directory location
	HomeEnv     = "CTXAI_HOME"
	HomeDirName = ".ctxai"
	ConfigFile  = "config.yaml"
	IndexesDir  = "indexes"
	CacheFile   = "embeddings.db"
	Version     = "1.0"
)

// Index statuses recorded in IndexMeta and index metadata
const (
	StatusIndexing  = "indexing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IndexingConfig limits and tunes index builds
type IndexingConfig struct {
	MaxFiles       int `yaml:"max_files" json:"max_files"`
	MaxTotalSizeMB int `yaml:"max_total_size_mb" json:"max_total_size_mb"`
	MaxFileSizeMB  int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	ChunkSize      int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int `yaml:"chunk_overlap" json:"chunk_overlap"`
	Workers        int `yaml:"workers" json:"workers"`
}

// IndexMeta describes the most recent index operation
type IndexMeta struct {
	Name        string    `yaml:"name" json:"name"`
	Status      string    `yaml:"status" json:"status"`
	FilesCount  int       `yaml:"files_count" json:"files_count"`
	SizeMB      float64   `yaml:"size_mb" json:"size_mb"`
	ChunksCount int       `yaml:"chunks_count" json:"chunks_count"`
	LastUpdated time.Time `yaml:"last_updated" json:"last_updated"`
}

// Config represents <home>/config.yaml
type Config struct {
	Version   string           `yaml:"version" json:"version"`
	Embedding embedding.Config `yaml:"embedding" json:"embedding"`
	Indexing  IndexingConfig   `yaml:"indexing" json:"indexing"`
	Current   *IndexMeta       `yaml:"current,omitempty" json:"current,omitempty"`
}

// Default returns the configuration written for a new home
func Default() *Config {
	return &Config{
		Version: Version,
		Embedding: embedding.Config{
			Provider:  "ollama",
			BatchSize: embedding.DefaultBatchSize,
			Cache:     true,
		},
		Indexing: IndexingConfig{
			MaxFiles:       10000,
			MaxTotalSizeMB: 500,
			MaxFileSizeMB:  5,
			ChunkSize:      1000,
			ChunkOverlap:   100,
			Workers:        runtime.NumCPU(),
		},
	}
}

// Home is a resolved ctxai home directory with its loaded config
type Home struct {
	Path   string
	Config *Config
}

// ResolveHome returns the home directory. $CTXAI_HOME wins; otherwise the
// nearest existing .ctxai directory at or above projectPath; otherwise
// <projectPath>/.ctxai. An empty projectPath means the working directory.
func ResolveHome(projectPath string) (string, error) {
	if env := strings.TrimSpace(os.Getenv(HomeEnv)); env != "" {
		return expandPath(env)
	}

	if projectPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		projectPath = cwd
	}
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project path: %w", err)
	}

	if found, err := FindHome(abs); err == nil {
		return found, nil
	}
	return filepath.Join(abs, HomeDirName), nil
}

// FindHome looks for a .ctxai directory starting from path and going up
func FindHome(startPath string) (string, error) {
	path := startPath
	for {
		home := filepath.Join(path, HomeDirName)
		if info, err := os.Stat(home); err == nil && info.IsDir() {
			return home, nil
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("no %s directory found (searched from %s to root)", HomeDirName, startPath)
		}
		path = parent
	}
}

func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand %s: %w", p, err)
		}
		p = filepath.Join(userHome, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}

// Open loads the config of the home at path, creating the directory and a
// default config.yaml when they do not exist yet.
func Open(path string) (*Home, error) {
	h := &Home{Path: path}
	if err := h.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		h.Config = Default()
		if err := h.Save(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ConfigPath returns the path to config.yaml
func (h *Home) ConfigPath() string {
	return filepath.Join(h.Path, ConfigFile)
}

// IndexesPath returns the directory holding one subdirectory per index
func (h *Home) IndexesPath() string {
	return filepath.Join(h.Path, IndexesDir)
}

// CachePath returns the embedding cache file
func (h *Home) CachePath() string {
	return filepath.Join(h.Path, CacheFile)
}

// Load reads config.yaml. Keys missing from the file keep their defaults.
func (h *Home) Load() error {
	data, err := os.ReadFile(h.ConfigPath())
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", h.ConfigPath(), err)
	}

	h.Config = config
	return nil
}

// Save writes config.yaml, creating the home directory if needed
func (h *Home) Save() error {
	if err := os.MkdirAll(h.Path, 0755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	data, err := yaml.Marshal(h.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(h.ConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// UpdateIndexMeta records the state of the most recent index operation
func (h *Home) UpdateIndexMeta(name, status string, files, chunks int, sizeMB float64) error {
	h.Config.Current = &IndexMeta{
		Name:        name,
		Status:      status,
		FilesCount:  files,
		SizeMB:      math.Round(sizeMB*100) / 100,
		ChunksCount: chunks,
		LastUpdated: time.Now().UTC(),
	}
	return h.Save()
}

// ClearIndexMeta forgets the most recent index operation
func (h *Home) ClearIndexMeta() error {
	h.Config.Current = nil
	return h.Save()
}
