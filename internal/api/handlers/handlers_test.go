package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docstream/internal/dispatch"
	"github.com/nikhilbhutani/docstream/internal/document"
	"github.com/nikhilbhutani/docstream/internal/envelope"
	"github.com/nikhilbhutani/docstream/internal/llm"
	"github.com/nikhilbhutani/docstream/internal/queue"
	"github.com/nikhilbhutani/docstream/internal/usage"
)

type fakeDispatcher struct {
	kind envelope.Kind
	req  dispatch.PublishRequest
	resp *envelope.Response
	err  error
}

func (f *fakeDispatcher) Call(_ context.Context, kind envelope.Kind, req dispatch.PublishRequest) (string, *envelope.Response, error) {
	f.kind, f.req = kind, req
	if f.err != nil {
		return "req-1", nil, f.err
	}
	return "req-1", f.resp, nil
}

type fakeContent map[string]string

func (f fakeContent) Content(_ context.Context, id string) (string, error) {
	c, ok := f[id]
	if !ok {
		return "", document.ErrNotFound
	}
	return c, nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func post(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestSummarize(t *testing.T) {
	d := &fakeDispatcher{resp: &envelope.Response{
		RequestID: "req-1",
		Result:    "HELLO WORLD",
		Cost:      envelope.Cost{ModelID: "stub-model", InputTokens: 2, OutputTokens: 2},
	}}
	h := NewRequestHandler(d, fakeContent{"doc1": "hello world"})

	rec := post(h.Summarize, `{"document_id":"doc1","model_id":"stub-model"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, envelope.KindSummarize, d.kind)
	assert.Equal(t, dispatch.PublishRequest{DocumentID: "doc1", Content: "hello world", ModelID: "stub-model"}, d.req)

	body := decode(t, rec)
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "HELLO WORLD", body["summary"])
	cost := body["cost"].(map[string]any)
	assert.Equal(t, "stub-model", cost["model"])
	assert.Equal(t, 2.0, cost["input_tokens"])
}

func TestAskQuestion(t *testing.T) {
	d := &fakeDispatcher{resp: &envelope.Response{RequestID: "req-1", Result: "Blue."}}
	h := NewRequestHandler(d, fakeContent{"doc1": "The sky is blue."})

	rec := post(h.AskQuestion, `{"document_id":"doc1","question":"What color?","model_id":"m"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, envelope.KindAnswerQuestion, d.kind)
	assert.Equal(t, "What color?", d.req.Question)
	assert.Equal(t, "The sky is blue.", d.req.Content)
	assert.Equal(t, "Blue.", decode(t, rec)["answer"])
}

func TestRequestErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"missing document id", `{"model_id":"m"}`, nil, http.StatusBadRequest},
		{"unknown document", `{"document_id":"nope"}`, nil, http.StatusNotFound},
		{"timeout", `{"document_id":"doc1"}`, fmt.Errorf("wait: %w", dispatch.ErrRequestTimeout), http.StatusGatewayTimeout},
		{"dispatch failure", `{"document_id":"doc1"}`, fmt.Errorf("append: %w", dispatch.ErrDispatchFailed), http.StatusBadGateway},
		{"other failure", `{"document_id":"doc1"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRequestHandler(&fakeDispatcher{err: tt.err}, fakeContent{"doc1": "x"})
			rec := post(h.Summarize, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestCallerDisconnectIsNotAServerError(t *testing.T) {
	h := NewRequestHandler(&fakeDispatcher{err: fmt.Errorf("wait: %w", context.Canceled)}, fakeContent{"doc1": "x"})
	rec := post(h.Summarize, `{"document_id":"doc1"}`)
	assert.Equal(t, statusClientClosedRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestAskQuestionRequiresQuestion(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewRequestHandler(d, fakeContent{"doc1": "x"})
	rec := post(h.AskQuestion, `{"document_id":"doc1","question":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, d.kind)
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newDocumentRouter() (http.Handler, *document.MemoryRepository) {
	repo := document.NewMemoryRepository()
	h := NewDocumentHandler(document.NewService(repo), 1<<20)
	r := chi.NewRouter()
	r.Post("/documents", h.Upload)
	r.Get("/documents", h.List)
	r.Get("/documents/{id}", h.Get)
	return r, repo
}

func TestDocumentUploadAndGet(t *testing.T) {
	router, _ := newDocumentRouter()

	body, ct := multipartBody(t, "file", "notes.txt", "hello world")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode(t, rec)
	id := created["document_id"].(string)
	assert.True(t, strings.HasPrefix(id, "notes_"))
	assert.Equal(t, "notes.txt", created["original_filename"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", decode(t, rec)["content"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["count"])
}

func TestDocumentErrors(t *testing.T) {
	router, _ := newDocumentRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, ct := multipartBody(t, "file", "image.png", "x")
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "other", "a.txt", "x")
	req = httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentListEmptyIsArray(t *testing.T) {
	router, _ := newDocumentRouter()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[],"count":0}`, rec.Body.String())
}

type staticModels []llm.ModelInfo

func (s staticModels) ListModels() []llm.ModelInfo { return s }

func TestModels(t *testing.T) {
	h := NewModelsHandler(staticModels{{ID: "huggingface/HuggingFaceH4/zephyr-7b-beta", Provider: "huggingface", Default: true}})
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	models := decode(t, rec)["models"].([]any)
	require.Len(t, models, 1)
	assert.Equal(t, "huggingface/HuggingFaceH4/zephyr-7b-beta", models[0].(map[string]any)["id"])
}

func TestReadyz(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	h := NewHealthHandler(map[string]Pinger{"redis": ok, "database": nil})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"redis":"ok"}}`, rec.Body.String())

	h = NewHealthHandler(map[string]Pinger{"redis": down})
	rec = httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["status"])
}

type fakeUsage struct {
	start, end *time.Time
}

func (f *fakeUsage) Summary(_ context.Context, start, end *time.Time) ([]usage.Summary, error) {
	f.start, f.end = start, end
	return []usage.Summary{{Kind: "summarize", Provider: "openai", Model: "gpt-4o", TotalCalls: 3}}, nil
}

type fakeSweeps struct{ calls int }

func (f *fakeSweeps) EnqueueSweep(queue.SweepPayload) (string, error) {
	f.calls++
	return "task-1", nil
}

func TestAdminUsage(t *testing.T) {
	u := &fakeUsage{}
	h := NewAdminHandler(u, nil)

	rec := httptest.NewRecorder()
	h.Usage(rec, httptest.NewRequest(http.MethodGet, "/admin/usage?start_date=2026-01-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, u.start)
	assert.Nil(t, u.end)
	assert.Len(t, decode(t, rec)["usage"], 1)

	rec = httptest.NewRecorder()
	h.Usage(rec, httptest.NewRequest(http.MethodGet, "/admin/usage?end_date=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/admin/sweep", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminSweep(t *testing.T) {
	s := &fakeSweeps{}
	h := NewAdminHandler(nil, s)

	rec := httptest.NewRecorder()
	h.Sweep(rec, httptest.NewRequest(http.MethodPost, "/admin/sweep", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, s.calls)
	assert.Equal(t, "task-1", decode(t, rec)["task_id"])

	rec = httptest.NewRecorder()
	h.Usage(rec, httptest.NewRequest(http.MethodGet, "/admin/usage", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
