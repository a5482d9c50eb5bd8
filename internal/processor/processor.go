// Package processor turns request envelopes into LLM calls and publishes the
// matching response envelope.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/llm"
)

const (
	summarySystemPrompt = "You are a helpful assistant that summarizes documents. Provide a concise but comprehensive summary of the document."
	qaSystemPrompt      = "You are a helpful assistant that answers questions based on the provided document. Use only the information in the document to answer the question."

	summaryUnavailable = "Unable to generate summary due to an error."
	answerUnavailable  = "Unable to answer the question due to an error."
)

var errMissingQuestion = errors.New("question is required")

// Completer runs one system+user prompt against a model.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt, modelID string) (string, llm.Usage, error)
}

// Responder appends a response envelope for a kind.
type Responder interface {
	Respond(ctx context.Context, kind envelope.Kind, resp *envelope.Response) error
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, kind envelope.Kind, requestID string, u llm.Usage) error
}

// Handler serves one kind. It satisfies worker.Handler.
type Handler struct {
	kind      envelope.Kind
	completer Completer
	responder Responder
	usage     UsageRecorder
	logger    *slog.Logger
}

type Option func(*Handler)

func WithUsageRecorder(r UsageRecorder) Option {
	return func(h *Handler) { h.usage = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(kind envelope.Kind, c Completer, r Responder, opts ...Option) *Handler {
	h := &Handler{
		kind:      kind,
		completer: c,
		responder: r,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("kind", kind)
	return h
}

// Handle publishes exactly one response for req. A failed model call still
// produces a response carrying a fallback message, zero cost and the error.
// Only a failure to publish, or shutdown in the middle of the call, is
// returned, which leaves the request pending for redelivery.
func (h *Handler) Handle(ctx context.Context, req *envelope.Request) error {
	logger := h.logger.With("request_id", req.RequestID, "document_id", req.DocumentID)

	resp := &envelope.Response{RequestID: req.RequestID}

	text, usage, err := h.complete(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		return fmt.Errorf("%s interrupted: %w", h.kind, err)
	case err != nil:
		logger.Warn("model call failed, responding with fallback", "model", req.ModelID, "error", err)
		resp.Result = h.unavailableMessage()
		resp.Cost = envelope.ZeroCost(req.ModelID)
		resp.Error = err.Error()
	default:
		resp.Result = text
		resp.Cost = costOf(req.ModelID, usage)
		h.recordUsage(ctx, req.RequestID, usage, logger)
	}

	// A finished answer is published even while shutting down.
	if err := h.responder.Respond(context.WithoutCancel(ctx), h.kind, resp); err != nil {
		return fmt.Errorf("respond to %s: %w", req.RequestID, err)
	}

	logger.Info("response published",
		"model", resp.Cost.ModelID,
		"input_tokens", resp.Cost.InputTokens,
		"output_tokens", resp.Cost.OutputTokens,
		"failed", resp.Error != "",
	)
	return nil
}

func (h *Handler) complete(ctx context.Context, req *envelope.Request) (string, llm.Usage, error) {
	switch h.kind {
	case envelope.KindSummarize:
		return h.completer.Complete(ctx, summarySystemPrompt,
			"Please summarize the following document:\n\n"+req.Content,
			req.ModelID)
	case envelope.KindAnswerQuestion:
		if req.Question == "" {
			return "", llm.Usage{}, errMissingQuestion
		}
		return h.completer.Complete(ctx, qaSystemPrompt,
			fmt.Sprintf("Document:\n\n%s\n\nQuestion: %s\n\nAnswer:", req.Content, req.Question),
			req.ModelID)
	default:
		return "", llm.Usage{}, fmt.Errorf("unknown work kind %q", h.kind)
	}
}

func (h *Handler) unavailableMessage() string {
	if h.kind == envelope.KindAnswerQuestion {
		return answerUnavailable
	}
	return summaryUnavailable
}

func (h *Handler) recordUsage(ctx context.Context, requestID string, u llm.Usage, logger *slog.Logger) {
	if h.usage == nil {
		return
	}
	if err := h.usage.RecordUsage(context.WithoutCancel(ctx), h.kind, requestID, u); err != nil {
		logger.Warn("failed to record usage", "error", err)
	}
}

func costOf(modelID string, u llm.Usage) envelope.Cost {
	if modelID == "" {
		modelID = u.Model
	}
	return envelope.Cost{
		ModelID:      modelID,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		InputCost:    u.InputCost,
		OutputCost:   u.OutputCost,
		TotalCost:    u.TotalCost,
	}
}
