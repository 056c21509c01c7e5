package server

import (
	"net/http"

	"github.com/aristath/tradeinbox/internal/utils"
)

// handleHealth reports whether every database answers a ping
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "tradeinbox",
	}

	for _, db := range s.container.Databases() {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check ping failed")
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
			response["failed_database"] = db.Name()
			break
		}
	}

	utils.WriteJSON(w, status, response, s.log)
}
