package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "valid key", path: "/v1/dead-letter", header: "Bearer secret-key", want: http.StatusOK},
		{name: "missing header", path: "/v1/dead-letter", want: http.StatusUnauthorized},
		{name: "invalid key", path: "/v1/dead-letter", header: "Bearer wrong-key", want: http.StatusForbidden},
		{name: "invalid format", path: "/v1/dead-letter", header: "Basic abc123", want: http.StatusUnauthorized},
		{name: "empty token", path: "/v1/dead-letter", header: "Bearer ", want: http.StatusUnauthorized},
		{name: "skip metrics", path: "/metrics", want: http.StatusOK},
		{name: "skip health", path: "/v1/health", want: http.StatusOK},
	}

	handler := KeyAuth("secret-key", "/metrics", "/v1/health")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}
