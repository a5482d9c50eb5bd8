package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nikhilbhutani/docstream/internal/config"
	"github.com/nikhilbhutani/docstream/pkg/tokenizer"
)

const (
	defaultMaxTokens   = 512
	defaultTemperature = 0.7
	defaultTopP        = 0.9
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	maxRetries       int
	retryBase        time.Duration
}

func NewGateway(cfg config.LLMConfig) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.DefaultProvider,
		defaultModel:     cfg.DefaultModel,
		fallbackProvider: cfg.FallbackProvider,
		maxRetries:       cfg.MaxRetries,
		retryBase:        500 * time.Millisecond,
	}

	if cfg.OpenAIKey != "" {
		g.register(NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL))
	}
	if cfg.GoogleAPIKey != "" {
		g.register(NewGeminiProvider(cfg.GoogleAPIKey, cfg.GeminiBaseURL))
	}
	if cfg.AnthropicKey != "" {
		g.register(NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		g.register(NewOllamaProvider(cfg.OllamaURL))
	}
	// Public HuggingFace models work without a token.
	if cfg.HuggingFaceURL != "" {
		g.register(NewHuggingFaceProvider(cfg.HuggingFaceURL, cfg.HuggingFaceToken, cfg.HFLoadRetries, cfg.HFLoadBackoff))
	}

	return g
}

func (g *gateway) register(p Provider) {
	g.providers[p.Name()] = p
}

func (g *gateway) provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, name)
	}
	return p, nil
}

// route splits a "provider/model" id. HuggingFace model names contain a slash
// themselves, so only a leading configured provider name counts as a prefix.
func (g *gateway) route(modelID string) (providerName, model string) {
	if prefix, rest, ok := strings.Cut(modelID, "/"); ok && rest != "" {
		if _, known := g.providers[prefix]; known {
			return prefix, rest
		}
	}
	return g.defaultProvider, modelID
}

func (g *gateway) Complete(ctx context.Context, systemPrompt, userPrompt, modelID string) (string, Usage, error) {
	if modelID == "" {
		modelID = g.defaultModel
	}
	providerName, model := g.route(modelID)

	resp, err := g.Chat(ctx, ChatRequest{
		Provider: providerName,
		Model:    model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		TopP:        defaultTopP,
	})
	if err != nil {
		return "", Usage{}, err
	}

	if resp.FinishReason == "length" || resp.FinishReason == "max_tokens" {
		slog.Warn("completion truncated at token limit", "model", modelID, "max_tokens", defaultMaxTokens)
	}

	inputTokens, outputTokens := resp.InputTokens, resp.OutputTokens
	if inputTokens == 0 && outputTokens == 0 {
		inputTokens = tokenizer.CountPromptTokens(systemPrompt, userPrompt)
		outputTokens = tokenizer.CountTokens(resp.Content)
	}
	inputCost, outputCost, total := CostBreakdown(resp.Model, inputTokens, outputTokens)

	return resp.Content, Usage{
		Model:         modelID,
		Provider:      resp.Provider,
		ProviderModel: resp.Model,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		InputCost:     inputCost,
		OutputCost:    outputCost,
		TotalCost:     total,
		LatencyMs:     resp.LatencyMs,
	}, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		fp, fpErr := g.provider(g.fallbackProvider)
		if fpErr != nil {
			return nil, err
		}
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"error", err,
		)
		// The requested model belongs to the primary provider.
		if models := fp.Models(); len(models) > 0 {
			req.Model = models[0]
		}
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.provider(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * g.retryBase
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		// HuggingFace has already spent its own load retries.
		if errors.Is(err, ErrRequestRejected) || errors.Is(err, ErrModelLoading) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, p := range g.providers {
		for _, m := range p.Models() {
			id := p.Name() + "/" + m
			models = append(models, ModelInfo{
				ID:       id,
				Provider: p.Name(),
				Model:    m,
				Default:  id == g.defaultModel,
			})
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models
}
