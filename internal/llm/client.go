// Package llm implements C3 LLM Client: prompt to text generation with an
// optional scoring path, health checks, and cancellation via context,
// adapted from the teacher's internal/core/llm_client.go interface and
// internal/perception's genai-backed client.
package llm

import "context"

// Client is the pluggable LLM interface. Implementations must honor ctx
// deadlines on every call.
type Client interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	Score(ctx context.Context, prompt string) (float64, error)
	Health(ctx context.Context) error
	Name() string
}
