package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/athena-core/memory/internal/erring"
	"github.com/athena-core/memory/internal/logging"
)

// GenAIClient generates text via Google's Gemini API.
type GenAIClient struct {
	client *genai.Client
	model  string
}

// NewGenAIClient creates a GenAI-backed LLM client.
func NewGenAIClient(apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, erring.ConfigError("llm.NewGenAIClient", fmt.Errorf("llm.api_key is required for provider=genai"))
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, erring.ProviderError("llm.NewGenAIClient", err)
	}
	logging.LLM("GenAI LLM client ready: model=%s", model)
	return &GenAIClient{client: client, model: model}, nil
}

// Generate produces text for a prompt, respecting ctx cancellation.
func (c *GenAIClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", erring.Timeout("llm.GenAI.Generate", ctx.Err())
		}
		return "", erring.ProviderError("llm.GenAI.Generate", err)
	}
	text := result.Text()
	if text == "" {
		return "", erring.New(erring.CodeProviderError, "llm.GenAI.Generate", "model returned no text", fmt.Errorf("empty response"))
	}
	return text, nil
}

// Score asks the model to rate a prompt in [0,1] and parses the numeric
// response; a malformed response is reported as a provider_error.
func (c *GenAIClient) Score(ctx context.Context, prompt string) (float64, error) {
	scored, err := c.Generate(ctx, "Respond with ONLY a single number between 0.0 and 1.0 scoring:\n\n"+prompt, 16)
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(scored)
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, erring.New(erring.CodeProviderError, "llm.GenAI.Score", "model did not return a parseable score", err)
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, nil
}

func (c *GenAIClient) Name() string { return fmt.Sprintf("genai:%s", c.model) }

func (c *GenAIClient) Health(ctx context.Context) error {
	_, err := c.Generate(ctx, "reply with OK", 8)
	return err
}
