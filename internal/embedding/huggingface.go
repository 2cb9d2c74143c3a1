package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const huggingFaceInferenceURL = "https://router.huggingface.co/hf-inference/models/"

// huggingFaceDimensions are the output sizes of common sentence-embedding models
var huggingFaceDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                  384,
	"BAAI/bge-base-en-v1.5":                   768,
	"BAAI/bge-large-en-v1.5":                  1024,
	"sentence-transformers/all-MiniLM-L6-v2":  384,
	"sentence-transformers/all-mpnet-base-v2": 768,
}

// HuggingFaceProvider implements Provider using Hugging Face's Inference API
type HuggingFaceProvider struct {
	config  Config
	client  *http.Client
	apiKey  string
	baseURL string
}

type huggingFaceRequest struct {
	Inputs  []string       `json:"inputs"`
	Options map[string]any `json:"options,omitempty"`
}

// NewHuggingFaceProvider creates a new Hugging Face embedding provider.
// Endpoint, when set, replaces the public inference URL prefix.
func NewHuggingFaceProvider(config *Config) (*HuggingFaceProvider, error) {
	cfg := *config
	cfg.Provider = "huggingface"
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = DefaultConfigs["huggingface"].APIKeyEnv
	}
	apiKey, err := GetAPIKey(&cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Model == "" {
		cfg.Model = DefaultConfigs["huggingface"].Model
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 384
		if d, ok := huggingFaceDimensions[cfg.Model]; ok {
			cfg.Dimension = d
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}

	baseURL := huggingFaceInferenceURL
	if cfg.Endpoint != "" {
		baseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/"
	}

	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &HuggingFaceProvider{
		config: cfg,
		client: &http.Client{
			Timeout:   120 * time.Second, // cold starts are slow
			Transport: transport,
		},
		apiKey:  apiKey,
		baseURL: baseURL,
	}, nil
}

// Name returns the provider name
func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

// Dimension returns the embedding dimension
func (p *HuggingFaceProvider) Dimension() int {
	return p.config.Dimension
}

// Embed generates an embedding for a single text
func (p *HuggingFaceProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (p *HuggingFaceProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return batches(ctx, texts, p.config.BatchSize, p.embedBatchInternal)
}

func (p *HuggingFaceProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	var raw json.RawMessage
	err := postJSON(ctx, p.client, p.baseURL+p.config.Model,
		map[string]string{"Authorization": "Bearer " + p.apiKey},
		huggingFaceRequest{Inputs: texts, Options: map[string]any{"wait_for_model": true}},
		&raw)
	if err != nil {
		return nil, fmt.Errorf("hugging face: %w", err)
	}
	return parseHuggingFaceResponse(raw)
}

// parseHuggingFaceResponse accepts sentence embeddings ([][]float) or
// token embeddings ([][][]float), which are mean pooled.
func parseHuggingFaceResponse(body []byte) ([][]float32, error) {
	var sentences [][]float64
	if err := json.Unmarshal(body, &sentences); err == nil {
		embeddings := make([][]float32, len(sentences))
		for i, emb := range sentences {
			embeddings[i] = convertFloat64ToFloat32(emb)
		}
		return embeddings, nil
	}

	var tokens [][][]float64
	if err := json.Unmarshal(body, &tokens); err == nil {
		embeddings := make([][]float32, len(tokens))
		for i, t := range tokens {
			embeddings[i] = meanPool(t)
		}
		return embeddings, nil
	}

	return nil, fmt.Errorf("hugging face: unexpected response format")
}

// meanPool averages token embeddings into one vector
func meanPool(tokenEmbeddings [][]float64) []float32 {
	if len(tokenEmbeddings) == 0 {
		return nil
	}

	dim := len(tokenEmbeddings[0])
	pooled := make([]float32, dim)
	for _, tokenEmb := range tokenEmbeddings {
		for i, v := range tokenEmb {
			if i < dim {
				pooled[i] += float32(v)
			}
		}
	}

	n := float32(len(tokenEmbeddings))
	for i := range pooled {
		pooled[i] /= n
	}
	return pooled
}

// Close releases resources
func (p *HuggingFaceProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
