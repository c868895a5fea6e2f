// Package embedding implements C2 Embedding Client: text to fixed-dimension
// vectors with batching and a deterministic mock fallback, adapted from the
// teacher's internal/embedding engine factory.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/athena-core/memory/internal/config"
	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
)

// Engine generates embeddings for text.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
	Health(ctx context.Context) error
}

// Result wraps an embedding with the degraded flag spec.md §4.C2 requires
// when the provider fell back to the mock path.
type Result struct {
	Vector    []float32
	Degraded  bool
}

// New builds an Engine from config, wrapping it so provider failures fall
// back to a deterministic mock instead of propagating, per spec.md §4.C2:
// "On provider failure, returns a deterministic mock embedding... and flags
// degraded=true".
func New(cfg config.EmbedConfig) (*FallbackEngine, error) {
	var inner Engine
	var err error

	switch cfg.Provider {
	case "remote":
		inner, err = NewGenAIEngine(cfg.APIKey, cfg.Model, cfg.Dimension)
	case "local":
		inner, err = NewOllamaEngine(cfg.Endpoint, cfg.Model, cfg.Dimension)
	case "mock", "":
		inner = NewMockEngine(cfg.Dimension)
	default:
		return nil, erring.ConfigError("embedding.New", fmt.Errorf("unknown embed.provider %q", cfg.Provider))
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("provider %q unavailable, falling back to mock: %v", cfg.Provider, err)
		inner = NewMockEngine(cfg.Dimension)
	}

	return &FallbackEngine{
		primary:   inner,
		mock:      NewMockEngine(cfg.Dimension),
		batchMax:  cfg.BatchMax,
		dimension: cfg.Dimension,
	}, nil
}

// FallbackEngine wraps a primary Engine and transparently falls back to a
// deterministic mock on failure, splitting oversize batches along the way.
type FallbackEngine struct {
	primary   Engine
	mock      *MockEngine
	batchMax  int
	dimension int
}

// Embed returns the embedding and whether the result is degraded.
func (f *FallbackEngine) Embed(ctx context.Context, text string) (Result, error) {
	v, err := f.primary.Embed(ctx, text)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("embed failed, using mock fallback: %v", err)
		mv, _ := f.mock.Embed(ctx, text)
		return Result{Vector: mv, Degraded: true}, nil
	}
	if len(v) != f.dimension {
		return Result{}, erring.DimensionMismatch("embedding.Embed", f.dimension, len(v))
	}
	return Result{Vector: v}, nil
}

// EmbedBatch embeds texts, splitting into provider-sized chunks.
func (f *FallbackEngine) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	max := f.batchMax
	if max <= 0 {
		max = len(texts)
	}
	results := make([]Result, 0, len(texts))
	for start := 0; start < len(texts); start += max {
		end := start + max
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		vecs, err := f.primary.EmbedBatch(ctx, chunk)
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("embed_batch failed, using mock fallback: %v", err)
			for _, t := range chunk {
				mv, _ := f.mock.Embed(ctx, t)
				results = append(results, Result{Vector: mv, Degraded: true})
			}
			continue
		}
		for _, v := range vecs {
			if len(v) != f.dimension {
				return nil, erring.DimensionMismatch("embedding.EmbedBatch", f.dimension, len(v))
			}
			results = append(results, Result{Vector: v})
		}
	}
	return results, nil
}

// Dimension returns the configured, fixed dimension.
func (f *FallbackEngine) Dimension() int { return f.dimension }

// Health reports the primary provider's health.
func (f *FallbackEngine) Health(ctx context.Context) error {
	return f.primary.Health(ctx)
}

// CosineSimilarity computes cosine similarity between two equal-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MockEngine deterministically derives a vector from the SHA-256 hash of
// the input text, so the same text always embeds to the same vector.
type MockEngine struct {
	dimension int
}

// NewMockEngine returns a hash-derived mock embedding engine.
func NewMockEngine(dimension int) *MockEngine {
	if dimension <= 0 {
		dimension = 768
	}
	return &MockEngine{dimension: dimension}
}

func (m *MockEngine) Embed(_ context.Context, text string) ([]float32, error) {
	h := sha256.Sum256([]byte(text))
	v := make([]float32, m.dimension)
	for i := range v {
		byteVal := h[i%len(h)]
		// Spread the 32-byte hash across arbitrary dimension, signed to
		// [-1, 1] so cosine similarity behaves sanely.
		v[i] = float32(byteVal)/127.5 - 1
	}
	return v, nil
}

func (m *MockEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := m.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (m *MockEngine) Dimension() int { return m.dimension }
func (m *MockEngine) Name() string   { return "mock" }
func (m *MockEngine) Health(context.Context) error { return nil }
