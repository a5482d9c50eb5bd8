package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nikhilbhutani/docstream/internal/queue"
	"github.com/nikhilbhutani/docstream/internal/usage"
)

type UsageReporter interface {
	Summary(ctx context.Context, startDate, endDate *time.Time) ([]usage.Summary, error)
}

type SweepEnqueuer interface {
	EnqueueSweep(payload queue.SweepPayload) (string, error)
}

// AdminHandler serves operator endpoints. Either dependency may be nil, in
// which case its endpoint answers 503.
type AdminHandler struct {
	usage UsageReporter
	sweep SweepEnqueuer
}

func NewAdminHandler(u UsageReporter, s SweepEnqueuer) *AdminHandler {
	return &AdminHandler{usage: u, sweep: s}
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage reporting requires a database")
		return
	}

	startDate, err := parseTimeParam(r, "start_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "start_date must be RFC3339")
		return
	}
	endDate, err := parseTimeParam(r, "end_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "end_date must be RFC3339")
		return
	}

	summary, err := h.usage.Summary(r.Context(), startDate, endDate)
	if err != nil {
		slog.Error("failed to load usage summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	if summary == nil {
		summary = []usage.Summary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

// Sweep schedules an immediate orphaned-response sweep.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweep == nil {
		writeError(w, http.StatusServiceUnavailable, "task queue not configured")
		return
	}

	taskID, err := h.sweep.EnqueueSweep(queue.SweepPayload{})
	if err != nil {
		slog.Error("failed to enqueue sweep", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue sweep")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
