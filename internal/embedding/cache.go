package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("embeddings")

// Cache is a bbolt file of embeddings keyed by provider, model, dimension
// and text hash. Unchanged chunks are not re-embedded on rebuilds. One Cache
// is shared by every provider in a process because bbolt locks the file.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the cache file at path
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise embedding cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Wrap returns p backed by the cache. Closing the result closes p but not
// the cache.
func (c *Cache) Wrap(p Provider, model string) *CachedProvider {
	return &CachedProvider{
		Provider: p,
		db:       c.db,
		prefix:   fmt.Sprintf("%s/%s/%d/", p.Name(), model, p.Dimension()),
	}
}

// Close closes the cache file
func (c *Cache) Close() error {
	return c.db.Close()
}

// CachedProvider serves embeddings from a Cache and embeds only the misses
type CachedProvider struct {
	Provider
	db     *bolt.DB
	prefix string
	owned  *Cache

	hits   atomic.Int64
	misses atomic.Int64
}

// Cached opens a private cache at path and wraps p. Close closes both.
func Cached(p Provider, path string, model string) (*CachedProvider, error) {
	cache, err := OpenCache(path)
	if err != nil {
		return nil, err
	}
	cp := cache.Wrap(p, model)
	cp.owned = cache
	return cp, nil
}

func (c *CachedProvider) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return append([]byte(c.prefix), sum[:]...)
}

// Embed returns a cached embedding or computes and stores one
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch serves cache hits and embeds the misses in one call
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		for i, text := range texts {
			if v := b.Get(c.key(text)); v != nil {
				out[i] = decodeVector(v)
			} else {
				missing = append(missing, i)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	c.hits.Add(int64(len(texts) - len(missing)))
	c.misses.Add(int64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	embedded, err := c.Provider.EmbedBatch(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(pending) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(embedded), len(pending))
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		for j, i := range missing {
			out[i] = embedded[j]
			if err := b.Put(c.key(pending[j]), encodeVector(embedded[j])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// The embeddings are still valid; only persistence failed.
		logrus.WithError(err).Warn("failed to write embedding cache")
	}
	return out, nil
}

// Stats returns the number of cache hits and misses so far
func (c *CachedProvider) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Close closes the wrapped provider, and the cache file when Cached opened it
func (c *CachedProvider) Close() error {
	err := c.Provider.Close()
	if c.owned != nil {
		if cerr := c.owned.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
