// Package handlers provides HTTP handlers for email ingestion.
package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/ingest"
	"github.com/aristath/tradeinbox/internal/spool"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxBatch bounds the emails accepted by one batch request
const maxBatch = 200

// Handler handles ingestion HTTP requests
type Handler struct {
	orchestrator *ingest.Orchestrator
	batch        ingest.BatchOptions
	log          zerolog.Logger
}

// NewHandler creates a new ingest handler. batch holds the defaults for
// batch requests that do not override them.
func NewHandler(orchestrator *ingest.Orchestrator, batch ingest.BatchOptions, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		batch:        batch,
		log:          log.With().Str("handler", "ingest").Logger(),
	}
}

// BatchRequest is the body of POST /api/emails/batch
type BatchRequest struct {
	Emails  []domain.RawEmail `json:"emails"`
	DelayMS *int              `json:"delayMs,omitempty"`
	Workers *int              `json:"workers,omitempty"`
}

// HandleProcess handles POST /api/emails/process.
// The body is a JSON RawEmail or, with Content-Type message/rfc822, the
// message itself.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readEmail(w, r)
	if !ok {
		return
	}

	result := h.orchestrator.Process(r.Context(), raw)
	status := http.StatusOK
	if result.Failed() {
		status = http.StatusUnprocessableEntity
	}
	utils.WriteJSON(w, status, result, h.log)
}

// HandleBatch handles POST /api/emails/batch
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Emails) == 0 {
		http.Error(w, "No emails provided", http.StatusBadRequest)
		return
	}
	if len(req.Emails) > maxBatch {
		http.Error(w, "Too many emails in one batch", http.StatusRequestEntityTooLarge)
		return
	}

	opts := h.batch
	if req.DelayMS != nil {
		opts.Delay = time.Duration(*req.DelayMS) * time.Millisecond
		if *req.DelayMS == 0 {
			opts.Delay = -1
		}
	}
	if req.Workers != nil {
		opts.Workers = *req.Workers
	}

	utils.WriteJSON(w, http.StatusOK, h.orchestrator.ProcessBatch(r.Context(), req.Emails, opts), h.log)
}

// HandleParse handles POST /api/emails/parse, a dry run of the parser
func (h *Handler) HandleParse(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readEmail(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, h.orchestrator.Preview(r.Context(), raw), h.log)
}

func (h *Handler) readEmail(w http.ResponseWriter, r *http.Request) (domain.RawEmail, bool) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "message/rfc822" {
		raw, err := spool.Decode(r.Body)
		if err != nil {
			http.Error(w, "Invalid message: "+err.Error(), http.StatusBadRequest)
			return raw, false
		}
		return raw, true
	}

	var raw domain.RawEmail
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return raw, false
	}
	return raw, true
}

// RegisterRoutes registers the ingestion routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/emails", func(r chi.Router) {
		r.Post("/process", h.HandleProcess)
		r.Post("/batch", h.HandleBatch)
		r.Post("/parse", h.HandleParse)
	})
}
