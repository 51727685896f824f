package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scrapepanel/scrape-jobs/internal/core"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   any
		want   string
	}{
		{name: "map body", status: http.StatusOK, data: map[string]string{"id": "abc-123"}, want: `{"id":"abc-123"}`},
		{name: "slice body", status: http.StatusCreated, data: []string{"a", "b"}, want: `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if got := w.Body.String(); got != tt.want+"\n" {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteError_CopiesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-1")

	WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("bad", nil))

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != core.ErrCodeInvalidRequest || resp.Error.RequestID != "req-1" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"invalid request", core.NewInvalidRequestError("bad", nil), http.StatusBadRequest, core.ErrCodeInvalidRequest},
		{"validation", core.NewValidationError("bad", nil), http.StatusBadRequest, core.ErrCodeValidationError},
		{"not found", core.NewNotFoundError("Job", "x"), http.StatusNotFound, core.ErrCodeNotFound},
		{"conflict", core.NewConflictError("dup", nil), http.StatusConflict, core.ErrCodeConflict},
		{"unavailable", core.NewUnavailableError("down"), http.StatusServiceUnavailable, core.ErrCodeUnavailable},
		{"wrapped core error", fmt.Errorf("ctx: %w", core.NewNotFoundError("Job", "x")), http.StatusNotFound, core.ErrCodeNotFound},
		{"job not found sentinel", fmt.Errorf("remove x: %w", core.ErrJobNotFound), http.StatusNotFound, core.ErrCodeNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, core.ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err)

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Errorf("error = %+v, want code %q", resp.Error, tt.wantErr)
			}
		})
	}
}
