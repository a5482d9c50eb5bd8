package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/docstream/internal/llm"
)

type ModelLister interface {
	ListModels() []llm.ModelInfo
}

type ModelsHandler struct {
	models ModelLister
}

func NewModelsHandler(m ModelLister) *ModelsHandler {
	return &ModelsHandler{models: m}
}

func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.models.ListModels()})
}
