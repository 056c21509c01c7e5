// Package handlers provides HTTP handlers for the review queue.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/review"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles review queue HTTP requests
type Handler struct {
	queue         *review.Queue
	retentionDays int
	log           zerolog.Logger
}

// NewHandler creates a new review handler. retentionDays is the default
// age for cleanup requests that do not name one.
func NewHandler(queue *review.Queue, retentionDays int, log zerolog.Logger) *Handler {
	return &Handler{
		queue:         queue,
		retentionDays: retentionDays,
		log:           log.With().Str("handler", "review").Logger(),
	}
}

// HandleList handles GET /api/review?status=&priority=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.ReviewFilter{
		Status:   domain.ReviewStatus(r.URL.Query().Get("status")),
		Priority: domain.ReviewPriority(r.URL.Query().Get("priority")),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	items, err := h.queue.GetQueueItems(r.Context(), filter)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	}, h.log)
}

// HandleStats handles GET /api/review/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetQueueStatistics(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats, h.log)
}

// HandleGet handles GET /api/review/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.GetQueueItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, item, h.log)
}

// HandleApprove handles POST /api/review/{id}/approve
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var d review.Decision
	if !h.decode(w, r, &d) {
		return
	}

	item, err := h.queue.ApproveQueueItem(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, item, h.log)
}

// HandleReject handles POST /api/review/{id}/reject
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	var d review.Decision
	if !h.decode(w, r, &d) {
		return
	}

	item, err := h.queue.RejectQueueItem(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, item, h.log)
}

// HandleUpdate handles PUT /api/review/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var e review.Edit
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.queue.UpdateQueueItem(r.Context(), chi.URLParam(r, "id"), e)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, item, h.log)
}

// HandleCleanup handles POST /api/review/cleanup?days=
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	days := h.retentionDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		parsed, err := strconv.Atoi(daysStr)
		if err != nil {
			http.Error(w, "Invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	deleted, err := h.queue.CleanupOldItems(r.Context(), days)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"days":    days,
	}, h.log)
}

// decode reads an optional JSON body; an empty body leaves v untouched
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
