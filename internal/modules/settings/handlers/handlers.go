// Package handlers provides HTTP handlers for per-source settings.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/tradeinbox/internal/modules/settings"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler provides HTTP handlers for settings endpoints
type Handler struct {
	service *settings.Service
	log     zerolog.Logger
}

// NewHandler creates a new settings handler
func NewHandler(service *settings.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "settings").Logger(),
	}
}

// HandleList handles GET /api/sources
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sources, err := h.service.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list source settings")
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"defaults":     h.service.Defaults(),
		"sources":      sources,
		"descriptions": settings.SettingDescriptions,
	}, h.log)
}

// HandleGet handles GET /api/sources/{source}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	cfg, err := h.service.GetSourceConfig(r.Context(), source)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	overrides, err := h.service.GetOverrides(r.Context(), source)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"effective": cfg,
		"overrides": overrides,
	}, h.log)
}

// HandleUpdate handles PUT /api/sources/{source}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	var patch settings.SourceOverrides
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg, err := h.service.Update(r.Context(), source, patch)
	if err != nil {
		h.log.Warn().Err(err).Str("source", source).Msg("Failed to update source settings")
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, cfg, h.log)
}

// HandleReset handles DELETE /api/sources/{source}
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if err := h.service.Reset(r.Context(), source); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "source": settings.NormalizeSource(source)}, h.log)
}

// RegisterRoutes registers the source settings routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sources", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{source}", h.HandleGet)
		r.Put("/{source}", h.HandleUpdate)
		r.Delete("/{source}", h.HandleReset)
	})
}
