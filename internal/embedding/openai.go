package embedding

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIDimensions are the native output sizes of OpenAI embedding models
var openAIDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements Provider using the OpenAI embeddings API. The
// same type serves Azure OpenAI deployments.
type OpenAIProvider struct {
	name   string
	config Config
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI embedding provider. Endpoint, when
// set, replaces the API base URL (for proxies and compatible servers).
func NewOpenAIProvider(config *Config) (*OpenAIProvider, error) {
	cfg := *config
	cfg.Provider = "openai"
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultConfigs["openai"].APIKeyEnv
	}
	apiKey, err := GetAPIKey(&cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	}
	return newOpenAIProvider("openai", cfg, clientConfig), nil
}

// NewAzureProvider creates an Azure OpenAI embedding provider. Model is the
// deployment name and Endpoint the resource URL.
func NewAzureProvider(config *Config) (*OpenAIProvider, error) {
	cfg := *config
	cfg.Provider = "azure"
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure provider requires an endpoint")
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultConfigs["azure"].APIKeyEnv
	}
	apiKey, err := GetAPIKey(&cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := openai.DefaultAzureConfig(apiKey, cfg.Endpoint)
	deployment := cfg.Model
	clientConfig.AzureModelMapperFunc = func(string) string { return deployment }
	return newOpenAIProvider("azure", cfg, clientConfig), nil
}

func newOpenAIProvider(name string, cfg Config, clientConfig openai.ClientConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultConfigs[name].Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
		if d, ok := openAIDimensions[cfg.Model]; ok {
			cfg.Dimension = d
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &OpenAIProvider{
		name:   name,
		config: cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Dimension returns the embedding dimension
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

// Embed generates an embedding for a single text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return batches(ctx, texts, p.config.BatchSize, p.embedBatchInternal)
}

func (p *OpenAIProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.config.Model),
	}
	// Only the v3 models can shorten their output.
	if native, ok := openAIDimensions[p.config.Model]; ok && native != p.config.Dimension &&
		strings.HasPrefix(p.config.Model, "text-embedding-3") {
		req.Dimensions = p.config.Dimension
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s embeddings request failed: %w", p.name, err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("%s returned embedding index %d for %d inputs", p.name, data.Index, len(texts))
		}
		embeddings[data.Index] = data.Embedding
	}
	for i, emb := range embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%s returned no embedding for input %d", p.name, i)
		}
	}
	return embeddings, nil
}

// Close releases resources
func (p *OpenAIProvider) Close() error {
	return nil
}
