package work

import (
	"errors"
	"net/http"
	"time"

	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handlers provides HTTP handlers for the work processor
type Handlers struct {
	processor  *Processor
	registry   *Registry
	completion *CompletionTracker
	log        zerolog.Logger
}

// NewHandlers creates new HTTP handlers for the work processor
func NewHandlers(processor *Processor, registry *Registry, completion *CompletionTracker, log zerolog.Logger) *Handlers {
	return &Handlers{
		processor:  processor,
		registry:   registry,
		completion: completion,
		log:        log.With().Str("handler", "work").Logger(),
	}
}

// RegisterRoutes registers HTTP routes for work management
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/work", func(r chi.Router) {
		r.Get("/types", h.ListWorkTypes)
		r.Get("/status", h.GetStatus)
		r.Post("/trigger", h.TriggerProcessor)
		r.Post("/{workType}/execute", h.ExecuteWorkType)
		r.Post("/{workType}/{subject}/execute", h.ExecuteWorkTypeWithSubject)
	})
}

type workTypeView struct {
	ID            string     `json:"id"`
	Priority      string     `json:"priority"`
	Interval      string     `json:"interval"`
	DependsOn     []string   `json:"depends_on"`
	LastCompleted *time.Time `json:"last_completed,omitempty"`
}

// ListWorkTypes returns all registered work types
func (h *Handlers) ListWorkTypes(w http.ResponseWriter, r *http.Request) {
	types := h.registry.ByPriority()

	response := make([]workTypeView, 0, len(types))
	for _, wt := range types {
		view := workTypeView{
			ID:        wt.ID,
			Priority:  wt.Priority.String(),
			Interval:  wt.Interval.String(),
			DependsOn: wt.DependsOn,
		}
		if view.DependsOn == nil {
			view.DependsOn = []string{}
		}
		if at, ok := h.completion.LastCompleted(wt.ID); ok {
			view.LastCompleted = &at
		}
		response = append(response, view)
	}

	utils.WriteJSON(w, http.StatusOK, response, h.log)
}

// GetStatus returns in-flight, retrying and exhausted work
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, h.processor.Status(), h.log)
}

// ExecuteWorkType manually executes a work type (global work)
func (h *Handlers) ExecuteWorkType(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, chi.URLParam(r, "workType"), "")
}

// ExecuteWorkTypeWithSubject manually executes a work type with a subject
func (h *Handlers) ExecuteWorkTypeWithSubject(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, chi.URLParam(r, "workType"), chi.URLParam(r, "subject"))
}

func (h *Handlers) execute(w http.ResponseWriter, r *http.Request, workType, subject string) {
	err := h.processor.ExecuteNow(r.Context(), workType, subject)
	if errors.Is(err, ErrUnknownWorkType) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()}, h.log)
		return
	}
	if err != nil {
		h.log.Warn().Err(err).Str("work_type", workType).Msg("Manual execution failed")
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()}, h.log)
		return
	}

	resp := map[string]string{
		"status":    "executed",
		"work_type": workType,
	}
	if subject != "" {
		resp["subject"] = subject
	}
	utils.WriteJSON(w, http.StatusOK, resp, h.log)
}

// TriggerProcessor triggers the processor to check for work
func (h *Handlers) TriggerProcessor(w http.ResponseWriter, r *http.Request) {
	h.processor.Trigger()
	utils.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"}, h.log)
}
