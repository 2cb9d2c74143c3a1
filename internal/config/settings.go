package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/ihavespoons/ctxai/internal/embedding"
)

var (
	// ErrUnknownKey is returned for a dotted key that names no setting
	ErrUnknownKey = errors.New("unknown config key")
	// ErrInvalidValue is returned when a value cannot be parsed for its key
	ErrInvalidValue = errors.New("invalid config value")
)

type setting struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringSetting(field func(*Config) *string) setting {
	return setting{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
	}
}

func intSetting(field func(*Config) *int) setting {
	return setting{
		get: func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: %q is not a non-negative integer", ErrInvalidValue, v)
			}
			*field(c) = n
			return nil
		},
	}
}

var settings = map[string]setting{
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error {
			if !slices.Contains(embedding.AvailableProviders(), v) {
				return fmt.Errorf("%w: provider must be one of %v", ErrInvalidValue, embedding.AvailableProviders())
			}
			c.Embedding.Provider = v
			return nil
		},
	},
	"embedding.model":       stringSetting(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.endpoint":    stringSetting(func(c *Config) *string { return &c.Embedding.Endpoint }),
	"embedding.api_key_env": stringSetting(func(c *Config) *string { return &c.Embedding.APIKeyEnv }),
	"embedding.api_key":     stringSetting(func(c *Config) *string { return &c.Embedding.APIKey }),
	"embedding.dimension":   intSetting(func(c *Config) *int { return &c.Embedding.Dimension }),
	"embedding.batch_size":  intSetting(func(c *Config) *int { return &c.Embedding.BatchSize }),
	"embedding.requests_per_second": {
		get: func(c *Config) string { return strconv.FormatFloat(c.Embedding.RequestsPerSecond, 'g', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				return fmt.Errorf("%w: %q is not a non-negative number", ErrInvalidValue, v)
			}
			c.Embedding.RequestsPerSecond = f
			return nil
		},
	},
	"embedding.cache": {
		get: func(c *Config) string { return strconv.FormatBool(c.Embedding.Cache) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, v)
			}
			c.Embedding.Cache = b
			return nil
		},
	},
	"indexing.max_files":         intSetting(func(c *Config) *int { return &c.Indexing.MaxFiles }),
	"indexing.max_total_size_mb": intSetting(func(c *Config) *int { return &c.Indexing.MaxTotalSizeMB }),
	"indexing.max_file_size_mb":  intSetting(func(c *Config) *int { return &c.Indexing.MaxFileSizeMB }),
	"indexing.chunk_size":        intSetting(func(c *Config) *int { return &c.Indexing.ChunkSize }),
	"indexing.chunk_overlap":     intSetting(func(c *Config) *int { return &c.Indexing.ChunkOverlap }),
	"indexing.workers":           intSetting(func(c *Config) *int { return &c.Indexing.Workers }),
}

// Keys returns every settable dotted key in sorted order
func Keys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of a dotted key such as "embedding.provider"
func (c *Config) Get(key string) (string, error) {
	s, ok := settings[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.get(c), nil
}

// Set parses value and assigns it to a dotted key
func (c *Config) Set(key, value string) error {
	s, ok := settings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.set(c, value)
}

// Unset restores a dotted key to its default
func (c *Config) Unset(key string) error {
	s, ok := settings[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.set(c, s.get(Default()))
}
