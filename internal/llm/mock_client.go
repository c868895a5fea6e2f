package llm

import (
	"context"
	"strings"
)

// MockClient is a deterministic LLM stand-in for tests and for provider=mock
// configuration; it never calls out to a network and never fails.
type MockClient struct{}

// NewMockClient returns a MockClient.
func NewMockClient() *MockClient { return &MockClient{} }

// Generate returns a canned response derived from the prompt so tests can
// assert on content without a live model.
func (m *MockClient) Generate(_ context.Context, prompt string, maxTokens int) (string, error) {
	out := "mock-response: " + prompt
	if maxTokens > 0 && len(out) > maxTokens {
		out = out[:maxTokens]
	}
	return out, nil
}

// Score returns a crude length/keyword heuristic in [0,1].
func (m *MockClient) Score(_ context.Context, prompt string) (float64, error) {
	lower := strings.ToLower(prompt)
	score := 0.5
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		score -= 0.2
	}
	if strings.Contains(lower, "success") || strings.Contains(lower, "confirmed") {
		score += 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (m *MockClient) Name() string                    { return "mock" }
func (m *MockClient) Health(context.Context) error     { return nil }

// New builds a Client from provider name, used by bootstrap wiring.
func New(provider, apiKey, model string) (Client, error) {
	switch provider {
	case "genai":
		return NewGenAIClient(apiKey, model)
	case "mock", "":
		return NewMockClient(), nil
	default:
		return NewMockClient(), nil
	}
}
