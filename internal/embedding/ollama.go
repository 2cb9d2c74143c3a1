package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements Provider using Ollama's local API
type OllamaProvider struct {
	config   Config
	client   *http.Client
	endpoint string
}

// ollamaEmbedRequest is the request format for Ollama's batch embed endpoint
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response format for Ollama's batch embed endpoint
type ollamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaProvider creates a new Ollama embedding provider
func NewOllamaProvider(config *Config) (*OllamaProvider, error) {
	cfg := *config
	cfg.Provider = "ollama"
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultConfigs["ollama"].Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfigs["ollama"].Model
	}

	return &OllamaProvider{
		config: cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Dimension returns the embedding dimension
func (p *OllamaProvider) Dimension() int {
	if p.config.Dimension > 0 {
		return p.config.Dimension
	}
	return 768 // nomic-embed-text
}

// Embed generates an embedding for a single text
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return batches(ctx, texts, p.config.BatchSize, p.embedBatchInternal)
}

func (p *OllamaProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	var result ollamaEmbedResponse
	err := postJSON(ctx, p.client, p.endpoint+"/api/embed", nil,
		ollamaEmbedRequest{Model: p.config.Model, Input: texts}, &result)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", result.Error)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = convertFloat64ToFloat32(emb)
	}
	return embeddings, nil
}

// Close releases resources
func (p *OllamaProvider) Close() error {
	return nil
}

// CheckModelAvailable checks that Ollama is running and has the configured model
func (p *OllamaProvider) CheckModelAvailable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama is not running at %s: %w", p.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	for _, model := range result.Models {
		if model.Name == p.config.Model || model.Name == p.config.Model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %s not found in Ollama. Run: ollama pull %s", p.config.Model, p.config.Model)
}

// postJSON sends body as JSON and decodes a 200 response into out. Other
// statuses become errors carrying the response text.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
