package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const maxHistory = 100

type statsResponse struct {
	Current AggregatedStats `json:"current"`
	History []Snapshot      `json:"history"`
}

// Handler serves the aggregator's current stats. With ?history=N and a
// snapshot History it also returns the N newest snapshots.
type Handler struct {
	aggregator *Aggregator
	history    History
	logger     *slog.Logger
}

// NewHandler serves agg. history may be nil.
func NewHandler(agg *Aggregator, history History) *Handler {
	return &Handler{
		aggregator: agg,
		history:    history,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("history")
	if raw == "" {
		h.write(w, http.StatusOK, h.aggregator.Stats())
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		h.write(w, http.StatusBadRequest, map[string]string{"error": "history must be a positive integer"})
		return
	}
	if h.history == nil {
		h.write(w, http.StatusServiceUnavailable, map[string]string{"error": "analytics snapshots are disabled"})
		return
	}
	snaps, err := h.history.History(r.Context(), min(n, maxHistory))
	if err != nil {
		h.logger.Error("loading analytics history", "error", err)
		h.write(w, http.StatusInternalServerError, map[string]string{"error": "loading analytics history"})
		return
	}
	h.write(w, http.StatusOK, statsResponse{Current: h.aggregator.Stats(), History: snaps})
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
