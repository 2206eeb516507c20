package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LocalProvider calls an Ollama-style /api/embeddings endpoint. Ollama
// embeds one prompt per request, so texts are sent sequentially and the
// first failure aborts the batch.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *zap.Logger

	configuredDim int
	dimOnce       sync.Once
	measuredDim   int
}

// NewLocalProvider creates a LocalProvider from cfg. The configured
// dimension is used until the first successful response reveals the real
// one.
func NewLocalProvider(cfg Config, logger *zap.Logger) *LocalProvider {
	return &LocalProvider{
		endpoint:      cfg.Endpoint,
		model:         cfg.Model,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		configuredDim: cfg.Dimension,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}

	if len(vectors[0]) > 0 {
		p.dimOnce.Do(func() { p.measuredDim = len(vectors[0]) })
	}
	return vectors, nil
}

func (p *LocalProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("embedding request failed",
			zap.String("endpoint", p.endpoint), zap.Error(err))
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		p.logger.Warn("embedding endpoint rejected request",
			zap.Int("status", resp.StatusCode), zap.String("endpoint", p.endpoint))
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(detail))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return parsed.Embedding, nil
}

// Dimension returns the dimension measured from the first response, falling
// back to the configured value before any request has succeeded.
func (p *LocalProvider) Dimension() int {
	if p.measuredDim > 0 {
		return p.measuredDim
	}
	return p.configuredDim
}
