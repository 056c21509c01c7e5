// Package handlers exposes the transaction ledger over HTTP.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/transactions"
	"github.com/aristath/tradeinbox/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ProcessedLister lists processed-email records
type ProcessedLister interface {
	List(ctx context.Context, limit int) ([]domain.ProcessedEmail, error)
}

// PortfolioLister lists portfolios
type PortfolioLister interface {
	ListPortfolios(ctx context.Context) ([]domain.Portfolio, error)
}

// Handler serves read-only ledger endpoints
type Handler struct {
	service    *transactions.Service
	processed  ProcessedLister
	portfolios PortfolioLister
	log        zerolog.Logger
}

// NewHandler creates a ledger handler
func NewHandler(service *transactions.Service, processed ProcessedLister, portfolios PortfolioLister, log zerolog.Logger) *Handler {
	return &Handler{
		service:    service,
		processed:  processed,
		portfolios: portfolios,
		log:        log.With().Str("handler", "transactions").Logger(),
	}
}

// RegisterRoutes registers the ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)
	})
	r.Get("/portfolios", h.HandlePortfolios)
	r.Get("/processed-emails", h.HandleProcessed)
}

// HandleList handles GET /api/transactions?portfolio_id=&from=&to=
// with dates as YYYY-MM-DD. The default range is the last 30 days.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := time.Now()

	from, err := parseDate(q.Get("from"), now.AddDate(0, 0, -30))
	if err != nil {
		http.Error(w, "Invalid from date", http.StatusBadRequest)
		return
	}
	to, err := parseDate(q.Get("to"), now)
	if err != nil {
		http.Error(w, "Invalid to date", http.StatusBadRequest)
		return
	}
	if q.Get("to") != "" {
		// Inclusive of the whole day
		to = to.Add(24*time.Hour - time.Second)
	}

	txs, err := h.service.List(r.Context(), q.Get("portfolio_id"), from, to)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	}, h.log)
}

// HandleGet handles GET /api/transactions/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, t, h.log)
}

// HandlePortfolios handles GET /api/portfolios
func (h *Handler) HandlePortfolios(w http.ResponseWriter, r *http.Request) {
	list, err := h.portfolios.ListPortfolios(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if list == nil {
		list = []domain.Portfolio{}
	}
	utils.WriteJSON(w, http.StatusOK, list, h.log)
}

// HandleProcessed handles GET /api/processed-emails?limit=
func (h *Handler) HandleProcessed(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.processed.List(r.Context(), limit)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if records == nil {
		records = []domain.ProcessedEmail{}
	}
	utils.WriteJSON(w, http.StatusOK, records, h.log)
}

func parseDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", s)
}
