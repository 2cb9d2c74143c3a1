// Package embedding turns chunk text into vectors through pluggable providers.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Provider is the interface for embedding providers
type Provider interface {
	// Name returns the provider name
	Name() string
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension
	Dimension() int
	// Close releases any resources
	Close() error
}

// BatchSizeEnv overrides the configured batch size when set to a positive integer.
const BatchSizeEnv = "CTXAI_EMBEDDING_BATCH_SIZE"

// DefaultBatchSize is used when neither the config nor the provider defaults set one.
const DefaultBatchSize = 100

var (
	// ErrUnknownProvider is returned for a provider name with no implementation
	ErrUnknownProvider = errors.New("unknown embedding provider")
	// ErrMissingAPIKey is returned when a cloud provider has no credentials
	ErrMissingAPIKey = errors.New("API key not configured")
)

// Config contains configuration for embedding providers
type Config struct {
	// Provider is one of AvailableProviders()
	Provider string `yaml:"provider" json:"provider"`
	// Model is the model name (the deployment name for azure)
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// Endpoint is the API base URL for local or self-hosted endpoints
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	// APIKeyEnv is the environment variable holding the API key
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	// APIKey is a literal key. Prefer the environment or the OS keyring.
	APIKey string `yaml:"api_key,omitempty" json:"-"`
	// Dimension is the embedding dimension (0 means the model default)
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	// BatchSize is the maximum number of texts per request
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// RequestsPerSecond throttles requests; 0 means unlimited
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	// Cache stores embeddings on disk keyed by content hash
	Cache bool `yaml:"cache" json:"cache"`
}

// DefaultConfigs contains default configurations for each provider
var DefaultConfigs = map[string]*Config{
	"ollama": {
		Provider:  "ollama",
		Model:     "nomic-embed-text",
		Endpoint:  "http://localhost:11434",
		Dimension: 768,
		BatchSize: 64,
		Cache:     true,
	},
	"openai": {
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "OPENAI_API_KEY",
		Dimension: 1536,
		BatchSize: 100,
		Cache:     true,
	},
	"azure": {
		Provider:  "azure",
		Model:     "text-embedding-3-small",
		APIKeyEnv: "AZURE_OPENAI_API_KEY",
		Dimension: 1536,
		BatchSize: 100,
		Cache:     true,
	},
	"huggingface": {
		Provider:  "huggingface",
		Model:     "BAAI/bge-small-en-v1.5",
		APIKeyEnv: "HF_API_KEY",
		Dimension: 384,
		BatchSize: 64,
		Cache:     true,
	},
	"gemini": {
		Provider:  "gemini",
		Model:     "text-embedding-004",
		APIKeyEnv: "GEMINI_API_KEY",
		Dimension: 768,
		BatchSize: 100,
		Cache:     true,
	},
	"hash": {
		Provider:  "hash",
		Model:     "feature-hash",
		Dimension: DefaultHashDimension,
		BatchSize: DefaultBatchSize,
	},
}

// DefaultConfig returns a copy of the defaults for a provider
func DefaultConfig(provider string) (*Config, error) {
	def, ok := DefaultConfigs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	cfg := *def
	return &cfg, nil
}

// NewProvider creates a provider based on the config. The config is
// validated first, so missing fields take the provider defaults.
func NewProvider(config *Config) (Provider, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	switch config.Provider {
	case "ollama":
		return NewOllamaProvider(config)
	case "openai":
		return NewOpenAIProvider(config)
	case "azure":
		return NewAzureProvider(config)
	case "huggingface":
		return NewHuggingFaceProvider(config)
	case "gemini":
		return NewGeminiProvider(config)
	case "hash":
		return NewHashProvider(config.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, config.Provider)
	}
}

// GetAPIKey returns the literal key from the config or the value of its
// environment variable.
func GetAPIKey(config *Config) (string, error) {
	if config.APIKey != "" {
		return config.APIKey, nil
	}
	if config.APIKeyEnv != "" {
		if key := os.Getenv(config.APIKeyEnv); key != "" {
			return key, nil
		}
		return "", fmt.Errorf("%w: set %s", ErrMissingAPIKey, config.APIKeyEnv)
	}
	return "", fmt.Errorf("%w for %s", ErrMissingAPIKey, config.Provider)
}

// NeedsAPIKey reports whether the provider calls an authenticated API
func NeedsAPIKey(provider string) bool {
	switch provider {
	case "openai", "azure", "huggingface", "gemini":
		return true
	}
	return false
}

// AvailableProviders returns a list of available providers
func AvailableProviders() []string {
	return []string{"ollama", "openai", "azure", "huggingface", "gemini", "hash"}
}

// ValidateConfig fills unset fields from the provider defaults and checks
// that cloud providers have credentials.
func ValidateConfig(config *Config) error {
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	def, ok := DefaultConfigs[config.Provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, config.Provider)
	}

	if config.Model == "" {
		config.Model = def.Model
	}
	if config.Endpoint == "" {
		config.Endpoint = def.Endpoint
	}
	if config.APIKeyEnv == "" {
		config.APIKeyEnv = def.APIKeyEnv
	}
	if config.Dimension == 0 {
		config.Dimension = def.Dimension
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	if envVal := os.Getenv(BatchSizeEnv); envVal != "" {
		if size, err := strconv.Atoi(envVal); err == nil && size > 0 {
			config.BatchSize = size
		}
	}

	if config.Provider == "azure" && config.Endpoint == "" {
		return fmt.Errorf("azure provider requires an endpoint")
	}
	if NeedsAPIKey(config.Provider) {
		if _, err := GetAPIKey(config); err != nil {
			return err
		}
	}
	return nil
}

// convertFloat64ToFloat32 converts a slice of float64 to float32
func convertFloat64ToFloat32(input []float64) []float32 {
	output := make([]float32, len(input))
	for i, v := range input {
		output[i] = float32(v)
	}
	return output
}

// batches calls fn on consecutive slices of at most size texts and
// assembles the results in input order.
func batches(ctx context.Context, texts []string, size int, fn func(context.Context, []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+size, len(texts))
		embeddings, err := fn(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		if len(embeddings) != end-i {
			return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(embeddings), end-i)
		}
		out = append(out, embeddings...)
	}
	return out, nil
}
