package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all review queue routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/review", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/stats", h.HandleStats)
		r.Post("/cleanup", h.HandleCleanup)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Put("/", h.HandleUpdate)
			r.Post("/approve", h.HandleApprove)
			r.Post("/reject", h.HandleReject)
		})
	})
}
