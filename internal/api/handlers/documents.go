package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/docstream/internal/document"
)

type DocumentService interface {
	Upload(ctx context.Context, filename string, data []byte) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	List(ctx context.Context, limit, offset int) ([]document.Document, error)
}

type DocumentHandler struct {
	svc      DocumentService
	maxBytes int64
}

func NewDocumentHandler(svc DocumentService, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &DocumentHandler{svc: svc, maxBytes: maxBytes}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}

	doc, err := h.svc.Upload(r.Context(), header.Filename, data)
	switch {
	case errors.Is(err, document.ErrUnsupportedType), errors.Is(err, document.ErrEmpty):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, document.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("document upload failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process document")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"document_id":       doc.ID,
		"original_filename": doc.Filename,
		"processing_date":   doc.Metadata["processing_date"],
		"page_count":        doc.PageCount,
	})
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	docs, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		slog.Error("failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, document.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		slog.Error("failed to load document", "document_id", chi.URLParam(r, "id"), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}
