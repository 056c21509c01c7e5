package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/rs/zerolog"
)

// HTTPStatus maps a service error to a response status
func HTTPStatus(err error) int {
	var pe *domain.PipelineError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyImported):
		return http.StatusConflict
	case errors.As(err, &pe) && pe.Kind == domain.KindValidation:
		return http.StatusBadRequest
	case errors.As(err, &pe) && pe.Kind == domain.KindParse:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// WriteJSON writes data wrapped in the standard envelope
func WriteJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// WriteError writes err with the status HTTPStatus picks for it
func WriteError(w http.ResponseWriter, err error, log zerolog.Logger) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}

	body := map[string]interface{}{"error": err.Error()}
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		body["kind"] = pe.Kind
		if pe.Code != "" {
			body["code"] = pe.Code
		}
	} else if errors.Is(err, domain.ErrConflict) {
		body["kind"] = domain.KindConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Error().Err(encErr).Msg("Failed to encode error response")
	}
}
