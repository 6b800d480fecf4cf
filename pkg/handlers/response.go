package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulsebi/pulse-engine/pkg/apperrors"
)

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// writeEngineError maps engine errors to HTTP statuses. Request-shape errors
// (invalid identifiers, operators, ordering, row ceiling) are the caller's
// fault; everything else is a store or synthesis failure.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNoMetrics),
		errors.Is(err, apperrors.ErrInvalidField),
		errors.Is(err, apperrors.ErrMalformedCondition),
		errors.Is(err, apperrors.ErrUnsupportedAggregation),
		errors.Is(err, apperrors.ErrUnknownDimension),
		errors.Is(err, apperrors.ErrInvalidOrderBy),
		errors.Is(err, apperrors.ErrInvalidDirection),
		errors.Is(err, apperrors.ErrRowCeilingExceeded),
		errors.Is(err, apperrors.ErrInjectionDetected):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		_ = ErrorResponse(w, http.StatusInternalServerError, "report_failed", "report execution failed")
	}
}
