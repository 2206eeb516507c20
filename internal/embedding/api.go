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

// errorBodyLimit caps how much of a failed response body is read into the
// returned error.
const errorBodyLimit = 2048

// APIProvider calls an OpenAI-compatible /embeddings endpoint. Texts are
// embedded in a single batched request.
type APIProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger

	configuredDim int
	dimOnce       sync.Once
	measuredDim   int
}

// NewAPIProvider creates an APIProvider from cfg. The configured dimension
// is used until the first successful response reveals the real one.
func NewAPIProvider(cfg Config, logger *zap.Logger) *APIProvider {
	return &APIProvider{
		endpoint:      cfg.Endpoint,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger,
		configuredDim: cfg.Dimension,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed sends all texts in one request and returns one vector per text,
// in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

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

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}

	if len(vectors[0]) > 0 {
		p.dimOnce.Do(func() { p.measuredDim = len(vectors[0]) })
	}
	return vectors, nil
}

// Dimension returns the dimension measured from the first response, falling
// back to the configured value before any request has succeeded.
func (p *APIProvider) Dimension() int {
	if p.measuredDim > 0 {
		return p.measuredDim
	}
	return p.configuredDim
}
