// Package index builds, updates and searches named code indexes.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/ihavespoons/ctxai/internal/config"
	"github.com/ihavespoons/ctxai/internal/embedding"
	"github.com/ihavespoons/ctxai/internal/traverse"
	"github.com/ihavespoons/ctxai/internal/vectordb"
	"github.com/sirupsen/logrus"
)

const infoFile = "info.json"

var (
	// ErrIndexNotFound is returned when no index has the requested name
	ErrIndexNotFound = errors.New("index not found")
	// ErrInvalidName is returned for names outside [A-Za-z0-9._-]
	ErrInvalidName = errors.New("invalid index name")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Info is the persisted description of an index
type Info struct {
	Name             string    `json:"name"`
	Root             string    `json:"root"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Dimension        int       `json:"dimension"`
	Status           string    `json:"status"`
	Files            int       `json:"files"`
	Chunks           int       `json:"chunks"`
	SizeBytes        int64     `json:"size_bytes"`
	BuildID          string    `json:"build_id,omitempty"`
	Include          []string  `json:"include,omitempty"`
	Exclude          []string  `json:"exclude,omitempty"`
	FollowIgnoreFile bool      `json:"follow_ignore_file"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TraverseConfig returns the traversal settings recorded for the index
func (i *Info) TraverseConfig() traverse.Config {
	return traverse.Config{
		Root:             i.Root,
		Include:          i.Include,
		Exclude:          i.Exclude,
		FollowIgnoreFile: i.FollowIgnoreFile,
	}
}

// ValidateName checks that name can be used as an index directory
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w %q: use letters, digits, '.', '_' and '-'", ErrInvalidName, name)
	}
	return nil
}

// Manager owns the indexes under <home>/indexes and the shared embedding
// cache. Indexers returned by Get are cached and closed by Close.
type Manager struct {
	home *config.Home

	mu     sync.Mutex
	getMu  sync.Mutex
	cache  *embedding.Cache
	opened map[string]*Indexer
}

// NewManager creates a manager for home
func NewManager(home *config.Home) *Manager {
	return &Manager{
		home:   home,
		opened: make(map[string]*Indexer),
	}
}

// Home returns the home the manager works in
func (m *Manager) Home() *config.Home {
	return m.home
}

// Path returns the directory of the named index
func (m *Manager) Path(name string) string {
	return filepath.Join(m.home.IndexesPath(), name)
}

// Exists reports whether an index with that name has been created
func (m *Manager) Exists(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(m.Path(name), infoFile))
	return err == nil
}

// Info loads the description of the named index
func (m *Manager) Info(name string) (*Info, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return readInfo(m.Path(name))
}

// List returns every index sorted by name. Directories without readable
// metadata are skipped.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.home.IndexesPath())
	if errors.Is(err, os.ErrNotExist) {
		return []*Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	infos := make([]*Info, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := readInfo(filepath.Join(m.home.IndexesPath(), e.Name()))
		if err != nil {
			logrus.WithError(err).WithField("index", e.Name()).Warn("skipping index without metadata")
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Create prepares an empty index for root, replacing any index with the
// same name. The returned Indexer must be built and closed by the caller.
func (m *Manager) Create(name, root string) (*Indexer, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", traverse.ErrRootNotFound, abs)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s", traverse.ErrRootNotDir, abs)
	}

	embCfg := m.home.Config.Embedding
	provider, embCfg, err := m.newProvider(embCfg)
	if err != nil {
		return nil, err
	}

	m.forget(name)
	dir := m.Path(name)
	if err := os.RemoveAll(dir); err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to remove previous index: %w", err)
	}

	now := time.Now().UTC()
	info := &Info{
		Name:             name,
		Root:             abs,
		Provider:         embCfg.Provider,
		Model:            embCfg.Model,
		Dimension:        provider.Dimension(),
		Status:           config.StatusIndexing,
		FollowIgnoreFile: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := writeInfo(dir, info); err != nil {
		_ = provider.Close()
		return nil, err
	}

	return m.openWith(dir, info, provider, embCfg)
}

// Open opens an existing index with the provider and model it was built
// with. The caller closes the returned Indexer.
func (m *Manager) Open(name string) (*Indexer, error) {
	info, err := m.Info(name)
	if err != nil {
		return nil, err
	}

	embCfg := m.home.Config.Embedding
	if embCfg.Provider != info.Provider || embCfg.Model != info.Model {
		// Settings of the configured provider do not apply to another one.
		embCfg = embedding.Config{
			Provider:          info.Provider,
			Model:             info.Model,
			BatchSize:         embCfg.BatchSize,
			RequestsPerSecond: embCfg.RequestsPerSecond,
			Cache:             embCfg.Cache,
		}
	}
	embCfg.Dimension = info.Dimension

	provider, embCfg, err := m.newProvider(embCfg)
	if err != nil {
		return nil, err
	}
	return m.openWith(m.Path(name), info, provider, embCfg)
}

// Get returns a shared Indexer for name, opening it on first use. The
// manager closes it.
func (m *Manager) Get(name string) (*Indexer, error) {
	// An index directory can only be opened once at a time.
	m.getMu.Lock()
	defer m.getMu.Unlock()

	m.mu.Lock()
	ix, ok := m.opened[name]
	m.mu.Unlock()
	if ok {
		return ix, nil
	}

	ix, err := m.Open(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.opened[name] = ix
	m.mu.Unlock()
	return ix, nil
}

// Delete removes the named index from disk
func (m *Manager) Delete(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	m.forget(name)
	if err := os.RemoveAll(m.Path(name)); err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	if cur := m.home.Config.Current; cur != nil && cur.Name == name {
		if err := m.home.ClearIndexMeta(); err != nil {
			logrus.WithError(err).Warn("failed to clear current index metadata")
		}
	}
	return nil
}

// DiskUsage returns the bytes used by the named index on disk
func (m *Manager) DiskUsage(name string) (int64, error) {
	if !m.Exists(name) {
		return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	var total int64
	err := filepath.WalkDir(m.Path(name), func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Close closes shared Indexers and the embedding cache
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, ix := range m.opened {
		errs = append(errs, ix.Close())
		delete(m.opened, name)
	}
	if m.cache != nil {
		errs = append(errs, m.cache.Close())
		m.cache = nil
	}
	return errors.Join(errs...)
}

// forget closes and drops a shared Indexer
func (m *Manager) forget(name string) {
	m.mu.Lock()
	ix, ok := m.opened[name]
	delete(m.opened, name)
	m.mu.Unlock()
	if ok {
		if err := ix.Close(); err != nil {
			logrus.WithError(err).WithField("index", name).Warn("failed to close index")
		}
	}
}

// newProvider builds the provider stack for cfg: the raw provider, batching
// with rate limiting, then the shared cache. The returned config has the
// provider defaults filled in.
func (m *Manager) newProvider(cfg embedding.Config) (embedding.Provider, embedding.Config, error) {
	config.ResolveAPIKey(&cfg)
	raw, err := embedding.NewProvider(&cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	var p embedding.Provider = embedding.Batched(raw, cfg.BatchSize, cfg.RequestsPerSecond)
	if cfg.Cache {
		cache, err := m.embeddingCache()
		if err != nil {
			logrus.WithError(err).Warn("embedding cache disabled")
		} else {
			p = cache.Wrap(p, cfg.Model)
		}
	}

	cfg.APIKey = ""
	return p, cfg, nil
}

func (m *Manager) embeddingCache() (*embedding.Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cache != nil {
		return m.cache, nil
	}
	if err := os.MkdirAll(m.home.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	cache, err := embedding.OpenCache(m.home.CachePath())
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return cache, nil
}

func (m *Manager) openWith(dir string, info *Info, provider embedding.Provider, embCfg embedding.Config) (*Indexer, error) {
	store, err := vectordb.NewFlatStore(vectordb.DefaultStoreConfig(dir, info.Dimension))
	if err != nil {
		_ = provider.Close()
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	keyword, err := vectordb.NewKeywordIndex(dir)
	if err != nil {
		_ = store.Close()
		_ = provider.Close()
		return nil, err
	}

	return &Indexer{
		manager:   m,
		dir:       dir,
		info:      info,
		store:     store,
		keyword:   keyword,
		provider:  provider,
		embedding: embCfg,
	}, nil
}

func readInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, infoFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, filepath.Base(dir))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata: %w", err)
	}
	return &info, nil
}

func writeInfo(dir string, info *Info) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	tmp := filepath.Join(dir, infoFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}
	return os.Rename(tmp, filepath.Join(dir, infoFile))
}
