package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/docstream/internal/dispatch"
	"github.com/nikhilbhutani/docstream/internal/document"
	"github.com/nikhilbhutani/docstream/internal/envelope"
)

// Dispatcher publishes a request and waits for its correlated response.
type Dispatcher interface {
	Call(ctx context.Context, kind envelope.Kind, req dispatch.PublishRequest) (string, *envelope.Response, error)
}

// statusClientClosedRequest is recorded when the caller hangs up while waiting.
const statusClientClosedRequest = 499

type ContentSource interface {
	Content(ctx context.Context, documentID string) (string, error)
}

type RequestHandler struct {
	dispatcher Dispatcher
	content    ContentSource
}

func NewRequestHandler(d Dispatcher, c ContentSource) *RequestHandler {
	return &RequestHandler{dispatcher: d, content: c}
}

type summarizeRequest struct {
	DocumentID string `json:"document_id"`
	ModelID    string `json:"model_id"`
}

type questionRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	ModelID    string `json:"model_id"`
}

func (h *RequestHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id required")
		return
	}

	requestID, resp, ok := h.call(w, r, envelope.KindSummarize, dispatch.PublishRequest{
		DocumentID: req.DocumentID,
		ModelID:    req.ModelID,
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"summary":    resp.Result,
		"cost":       resp.Cost,
	})
}

func (h *RequestHandler) AskQuestion(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" || strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "document_id and question required")
		return
	}

	requestID, resp, ok := h.call(w, r, envelope.KindAnswerQuestion, dispatch.PublishRequest{
		DocumentID: req.DocumentID,
		Question:   req.Question,
		ModelID:    req.ModelID,
	})
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"request_id": requestID,
		"answer":     resp.Result,
		"cost":       resp.Cost,
	})
}

// call fills in the document content, dispatches the request and writes the
// error response itself when anything fails.
func (h *RequestHandler) call(w http.ResponseWriter, r *http.Request, kind envelope.Kind, req dispatch.PublishRequest) (string, *envelope.Response, bool) {
	content, err := h.content.Content(r.Context(), req.DocumentID)
	if errors.Is(err, document.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return "", nil, false
	}
	if err != nil {
		slog.Error("failed to load document content", "document_id", req.DocumentID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return "", nil, false
	}
	req.Content = content

	requestID, resp, err := h.dispatcher.Call(r.Context(), kind, req)
	switch {
	case errors.Is(err, dispatch.ErrRequestTimeout):
		slog.Warn("request timed out", "kind", kind, "request_id", requestID)
		writeError(w, http.StatusGatewayTimeout, string(kind)+" request timed out")
		return "", nil, false
	case errors.Is(err, context.Canceled):
		slog.Info("caller went away before the response arrived", "kind", kind, "request_id", requestID)
		w.WriteHeader(statusClientClosedRequest)
		return "", nil, false
	case errors.Is(err, dispatch.ErrDispatchFailed):
		slog.Error("request dispatch failed", "kind", kind, "error", err)
		writeError(w, http.StatusBadGateway, "could not dispatch request")
		return "", nil, false
	case err != nil:
		slog.Error("request failed", "kind", kind, "request_id", requestID, "error", err)
		writeError(w, http.StatusInternalServerError, "request failed")
		return "", nil, false
	}
	return requestID, resp, true
}
