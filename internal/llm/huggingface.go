package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrModelLoading is returned when the Inference API keeps answering 503
// after every load retry. The gateway does not retry it.
var ErrModelLoading = errors.New("huggingface model still loading")

// HuggingFaceProvider calls the hosted Inference API text-generation endpoint.
// Chat messages are rendered with the zephyr chat template.
type HuggingFaceProvider struct {
	baseURL     string
	token       string
	loadRetries int
	loadBackoff time.Duration
	httpClient  *http.Client
}

func NewHuggingFaceProvider(baseURL, token string, loadRetries int, loadBackoff time.Duration) *HuggingFaceProvider {
	return &HuggingFaceProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		loadRetries: loadRetries,
		loadBackoff: loadBackoff,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (p *HuggingFaceProvider) Name() string { return "huggingface" }

func (p *HuggingFaceProvider) Models() []string {
	return []string{"HuggingFaceH4/zephyr-7b-beta"}
}

type hfGenerateReq struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	TopP           float64 `json:"top_p,omitempty"`
	DoSample       bool    `json:"do_sample"`
	ReturnFullText bool    `json:"return_full_text"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
}

// zephyrPrompt renders messages as <|role|>\ncontent</s> turns followed by an
// open assistant turn.
func zephyrPrompt(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "<|%s|>\n%s</s>\n", m.Role, m.Content)
	}
	b.WriteString("<|assistant|>")
	return b.String()
}

func (p *HuggingFaceProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	prompt := zephyrPrompt(req.Messages)

	body, err := json.Marshal(hfGenerateReq{
		Inputs: prompt,
		Parameters: hfParameters{
			MaxNewTokens: req.MaxTokens,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			DoSample:     req.Temperature > 0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("huggingface encode: %w", err)
	}

	var generated []hfGenerated
	for attempt := 0; ; attempt++ {
		status, payload, err := p.post(ctx, req.Model, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusServiceUnavailable {
			if attempt >= p.loadRetries {
				return nil, fmt.Errorf("%w: %s after %d retries", ErrModelLoading, req.Model, attempt)
			}
			slog.Info("huggingface model loading, waiting", "model", req.Model, "backoff", p.loadBackoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.loadBackoff):
			}
			continue
		}
		if status != http.StatusOK {
			err := fmt.Errorf("huggingface generate %s: status %d: %s", req.Model, status, bytes.TrimSpace(payload))
			if rejected(status) {
				return nil, fmt.Errorf("%w: %w", ErrRequestRejected, err)
			}
			return nil, err
		}
		if err := json.Unmarshal(payload, &generated); err != nil {
			return nil, fmt.Errorf("huggingface decode: %w", err)
		}
		break
	}

	if len(generated) == 0 {
		return nil, fmt.Errorf("huggingface generate %s: %w", req.Model, ErrEmptyCompletion)
	}
	text := strings.TrimSpace(strings.TrimPrefix(generated[0].GeneratedText, prompt))
	if text == "" {
		return nil, fmt.Errorf("huggingface generate %s: %w", req.Model, ErrEmptyCompletion)
	}

	return &ChatResponse{
		Provider:  "huggingface",
		Model:     req.Model,
		Content:   text,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

func (p *HuggingFaceProvider) post(ctx context.Context, model string, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+model, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("huggingface request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("huggingface generate: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("huggingface read: %w", err)
	}
	return resp.StatusCode, payload, nil
}
