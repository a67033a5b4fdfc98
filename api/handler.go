// Package api exposes the administrative HTTP surface of the limiter:
// read-only stats introspection and per-key resets.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/quotafence/quotafence/metrics"
	"github.com/quotafence/quotafence/pkg/quotafence"
)

// Handler serves the admin endpoints.
type Handler struct {
	limiter *quotafence.Limiter
	stats   *metrics.Collector
}

// NewHandler creates the admin handler.
func NewHandler(limiter *quotafence.Limiter, stats *metrics.Collector) *Handler {
	return &Handler{limiter: limiter, stats: stats}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetStats handles GET /v1/stats[?group=<name>]. Without a group it returns
// the full snapshot; with one it returns that group's counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET requests are allowed")
		return
	}

	if group := r.URL.Query().Get("group"); group != "" {
		stats, ok := h.stats.Group(group)
		if !ok {
			h.sendError(w, http.StatusNotFound, "unknown_group", "No stats recorded for group "+group)
			return
		}
		h.sendJSON(w, http.StatusOK, stats)
		return
	}

	h.sendJSON(w, http.StatusOK, h.stats.GetSnapshot())
}

// ResetRequest is the body for POST /v1/reset.
type ResetRequest struct {
	Group string `json:"group"`
	Key   string `json:"key,omitempty"`
}

// Reset handles POST /v1/reset. With a key it clears that key's state in the
// group, including any escalated block (e.g. after a successful password
// reset, to un-penalize a user who mistyped their password several times).
// Without a key it zeroes the group's stats counters.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only POST requests are allowed")
		return
	}

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Group == "" {
		h.sendError(w, http.StatusBadRequest, "missing_group", "group is required")
		return
	}

	if req.Key == "" {
		h.stats.Reset(req.Group)
		h.sendJSON(w, http.StatusOK, map[string]string{"status": "stats reset", "group": req.Group})
		return
	}

	if err := h.limiter.Reset(req.Group, req.Key); err != nil {
		h.sendError(w, http.StatusNotFound, "unknown_group", err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "key reset", "group": req.Group, "key": req.Key})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"groups": h.limiter.Groups(),
	})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) sendError(w http.ResponseWriter, status int, code, message string) {
	h.sendJSON(w, status, ErrorResponse{Error: code, Message: message})
}
