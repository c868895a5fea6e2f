package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/athena-core/memory/internal/erring"
)

// OllamaEngine generates embeddings using a local Ollama server, adapted
// from the teacher's internal/embedding/ollama.go.
type OllamaEngine struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaEngine creates a local Ollama-backed embedding engine.
func NewOllamaEngine(endpoint, model string, dimension int) (*OllamaEngine, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "embeddinggemma"
	}
	if dimension <= 0 {
		dimension = 768
	}
	return &OllamaEngine{
		endpoint:  endpoint,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, erring.ProviderError("embedding.Ollama.Embed", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, erring.ProviderError("embedding.Ollama.Embed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, erring.Connection("embedding.Ollama.Embed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, erring.ProviderError("embedding.Ollama.Embed", fmt.Errorf("status %d: %s", resp.StatusCode, string(b)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, erring.ProviderError("embedding.Ollama.Embed", err)
	}
	return result.Embedding, nil
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *OllamaEngine) Dimension() int { return e.dimension }
func (e *OllamaEngine) Name() string   { return fmt.Sprintf("ollama:%s", e.model) }

func (e *OllamaEngine) Health(ctx context.Context) error {
	_, err := e.Embed(ctx, "health check")
	if err != nil {
		return erring.Connection("embedding.Ollama.Health", err)
	}
	return nil
}
