package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"paperreader/internal/domain"
	apperrors "paperreader/pkg/errors"
)

// writeError writes an error response (helper function)
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeAppError maps a service error onto its HTTP status and writes it
// with its error type.
func writeAppError(w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	writeJSON(w, apperrors.GetStatusCode(appErr), map[string]string{
		"error":      appErr.Message,
		"error_type": string(apperrors.TypeOf(appErr)),
	})
}

func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrInvalidDocumentID),
		errors.Is(err, domain.ErrInvalidFile),
		errors.Is(err, domain.ErrFileTooLarge):
		return apperrors.NewValidationError(err.Error())
	case errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrImageNotFound):
		return apperrors.NewNotFoundError(err.Error())
	case errors.Is(err, domain.ErrInFlight),
		errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrNotReady):
		return apperrors.NewConflictError(err.Error(), err)
	case errors.Is(err, domain.ErrPoolClosed):
		appErr = apperrors.NewInternalError("conversion queue is shut down", err)
		appErr.StatusCode = http.StatusServiceUnavailable
		return appErr
	default:
		return apperrors.NewInternalError("internal server error", err)
	}
}
