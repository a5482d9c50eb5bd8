package llm

import (
	"context"
	"errors"
)

var (
	ErrProviderNotConfigured = errors.New("llm provider not configured")

	// ErrRequestRejected marks provider answers that will not change on retry,
	// such as bad credentials or an unknown model.
	ErrRequestRejected = errors.New("llm request rejected")

	// ErrEmptyCompletion means the provider answered without any text.
	ErrEmptyCompletion = errors.New("llm returned no text")
)

// rejected reports whether an HTTP status from a provider is final.
func rejected(status int) bool {
	switch status {
	case 400, 401, 403, 404, 422:
		return true
	}
	return false
}

// Provider abstracts an LLM backend (OpenAI-compatible APIs, Anthropic,
// Ollama, HuggingFace Inference).
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
}

// Gateway routes completions to providers with retry and fallback.
type Gateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Complete runs a single system+user prompt against modelID, given as
	// "provider/model". An id without a configured provider prefix is sent to
	// the default provider unchanged.
	Complete(ctx context.Context, systemPrompt, userPrompt, modelID string) (string, Usage, error)
	ListModels() []ModelInfo
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest is the input for chat completions.
type ChatRequest struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// ChatResponse is the output from chat completions.
type ChatResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage is the accounting for one Complete call. Model is the id the caller
// asked for, Provider and ProviderModel say where it actually ran.
type Usage struct {
	Model         string
	Provider      string
	ProviderModel string
	InputTokens   int
	OutputTokens  int
	InputCost     float64
	OutputCost    float64
	TotalCost     float64
	LatencyMs     int64
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Default  bool   `json:"default,omitempty"`
}
