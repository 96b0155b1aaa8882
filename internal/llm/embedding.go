package llm

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

// Anthropic has no embeddings endpoint, so the EmbeddingProvider is an
// OpenAI-compatible HTTP client, grounded on the teacher's
// internal/providers/openai.go request-building idiom (the same shape
// the teacher already anticipates in config.MemoryConfig's
// embedding_provider/embedding_model fields) rather than the SDK used
// for chat completions.
const (
	defaultEmbeddingAPIBase = "https://api.openai.com/v1"
	defaultEmbeddingModel   = "text-embedding-3-small"
)

// OpenAIEmbeddingProvider implements EmbeddingProvider against any
// OpenAI-compatible /embeddings endpoint.
type OpenAIEmbeddingProvider struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
}

func NewOpenAIEmbeddingProvider(apiKey, apiBase, model string) *OpenAIEmbeddingProvider {
	if apiBase == "" {
		apiBase = defaultEmbeddingAPIBase
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIEmbeddingProvider{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// GenerateEmbedding implements EmbeddingProvider (spec.md §6's
// EmbeddingProvider.generateEmbedding contract).
func (p *OpenAIEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return parsed.Data[0].Embedding, nil
}
