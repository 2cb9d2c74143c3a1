package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// geminiMaxBatch is the largest number of contents one EmbedContent call accepts.
const geminiMaxBatch = 100

// GeminiProvider implements Provider using the Gemini API
type GeminiProvider struct {
	config Config
	client *genai.Client
}

// NewGeminiProvider creates a Gemini embedding provider
func NewGeminiProvider(config *Config) (*GeminiProvider, error) {
	cfg := *config
	cfg.Provider = "gemini"
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultConfigs["gemini"].APIKeyEnv
	}
	apiKey, err := GetAPIKey(&cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfigs["gemini"].Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultConfigs["gemini"].Dimension
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > geminiMaxBatch {
		cfg.BatchSize = geminiMaxBatch
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{config: cfg, client: client}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Dimension returns the embedding dimension
func (p *GeminiProvider) Dimension() int {
	return p.config.Dimension
}

// Embed generates an embedding for a single text
func (p *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (p *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return batches(ctx, texts, p.config.BatchSize, p.embedBatchInternal)
}

func (p *GeminiProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.Text(text)[0]
	}

	dim := int32(p.config.Dimension)
	resp, err := p.client.Models.EmbedContent(ctx, p.config.Model, contents, &genai.EmbedContentConfig{
		TaskType:             "RETRIEVAL_DOCUMENT",
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings request failed: %w", err)
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Close releases resources
func (p *GeminiProvider) Close() error {
	return nil
}
