package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
)

// maxGenAIBatchSize is the API's limit on texts per EmbedContent call.
const maxGenAIBatchSize = 100

func int32Ptr(i int32) *int32 { return &i }

// GenAIEngine generates embeddings via Google's Gemini API, adapted from
// the teacher's internal/embedding/genai.go.
type GenAIEngine struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGenAIEngine creates a GenAI-backed embedding engine with the module's
// configured output dimension (the teacher hardcodes 3072; here it is
// threaded through from config so C2's "dimension fixed at initialization"
// contract holds for any provider).
func NewGenAIEngine(apiKey, model string, dimension int) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, erring.ConfigError("embedding.NewGenAIEngine", fmt.Errorf("embed.api_key is required for provider=remote"))
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	if dimension <= 0 {
		dimension = 3072
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, erring.ProviderError("embedding.NewGenAIEngine", err)
	}

	logging.Embedding("GenAI embedding engine ready: model=%s dimension=%d", model, dimension)
	return &GenAIEngine{client: client, model: model, dimension: dimension}, nil
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, erring.ProviderError("embedding.GenAI.Embed", fmt.Errorf("no embeddings returned"))
	}
	return vecs[0], nil
}

// EmbedBatch embeds up to maxGenAIBatchSize texts per request, chunking
// larger inputs sequentially, matching the teacher's embedBatchChunk split.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxGenAIBatchSize {
		end := start + maxGenAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
	return all, nil
}

func (e *GenAIEngine) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: int32Ptr(int32(e.dimension)),
	})
	if err != nil {
		return nil, erring.ProviderError("embedding.GenAI.EmbedBatch", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GenAIEngine) Dimension() int { return e.dimension }
func (e *GenAIEngine) Name() string   { return fmt.Sprintf("genai:%s", e.model) }

func (e *GenAIEngine) Health(ctx context.Context) error {
	_, err := e.Embed(ctx, "health check")
	if err != nil {
		return erring.ProviderError("embedding.GenAI.Health", err)
	}
	return nil
}
