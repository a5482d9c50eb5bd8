package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint for Gemini models.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIProvider speaks the OpenAI chat completions API. The same client
// serves OpenAI itself and compatible backends such as Gemini.
type OpenAIProvider struct {
	client  *openai.Client
	name    string
	models  []string
	aliases map[string]string
}

// NewOpenAIProvider talks to api.openai.com, or to an OpenAI-compatible
// endpoint when baseURL is set.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	return newCompatibleProvider("openai", apiKey, baseURL,
		[]string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"}, nil)
}

// NewGeminiProvider serves "gemini/..." model ids. The legacy gemini-pro id is
// answered by gemini-1.5-pro.
func NewGeminiProvider(apiKey, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	return newCompatibleProvider("gemini", apiKey, baseURL,
		[]string{"gemini-1.5-pro", "gemini-1.5-flash", "gemini-pro"},
		map[string]string{"gemini-pro": "gemini-1.5-pro"})
}

func newCompatibleProvider(name, apiKey, baseURL string, models []string, aliases map[string]string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(cfg),
		name:    name,
		models:  models,
		aliases: aliases,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Models() []string { return p.models }

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if alias, ok := p.aliases[model]; ok {
		model = alias
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		TopP:        float32(req.TopP),
		Stop:        req.Stop,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && rejected(apiErr.HTTPStatusCode) {
			return nil, fmt.Errorf("%s chat %s: %w: %w", p.name, model, ErrRequestRejected, err)
		}
		return nil, fmt.Errorf("%s chat %s: %w", p.name, model, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%s chat %s: %w", p.name, model, ErrEmptyCompletion)
	}
	choice := resp.Choices[0]

	return &ChatResponse{
		ID:           resp.ID,
		Provider:     p.name,
		Model:        model,
		Content:      choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		CostUSD:      CalculateCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:    time.Since(start).Milliseconds(),
		FinishReason: string(choice.FinishReason),
	}, nil
}
