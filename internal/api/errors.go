package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

// ErrorResponse wraps a core.Error for JSON serialization.
type ErrorResponse struct {
	Error *core.Error `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response. The request ID, when the middleware
// assigned one, is copied into the body.
func WriteError(w http.ResponseWriter, status int, err *core.Error) {
	if id := w.Header().Get(RequestIDHeader); id != "" && err.RequestID == "" {
		err.RequestID = id
	}
	WriteJSON(w, status, ErrorResponse{Error: err})
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(err *core.Error) int {
	switch err.Code {
	case core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError maps an error to the appropriate HTTP status and writes it.
func HandleError(w http.ResponseWriter, err error) {
	var cerr *core.Error
	if errors.As(err, &cerr) {
		WriteError(w, StatusFor(cerr), cerr)
		return
	}
	if errors.Is(err, core.ErrJobNotFound) {
		WriteError(w, http.StatusNotFound, &core.Error{Code: core.ErrCodeNotFound, Message: err.Error()})
		return
	}
	WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
}
