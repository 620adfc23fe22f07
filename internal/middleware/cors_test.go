package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:3000")(okHandler())

	w := serve(handler, httptest.NewRequest(http.MethodGet, "/api/todos", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	want := map[string]string{
		"Access-Control-Allow-Origin":      "http://localhost:3000",
		"Access-Control-Allow-Methods":     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		"Access-Control-Allow-Headers":     "Content-Type, Authorization, X-CSRF-Token, X-Device-ID",
		"Access-Control-Expose-Headers":    "Retry-After",
		"Access-Control-Allow-Credentials": "true",
		"Access-Control-Max-Age":           "86400",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
}

func TestCORSMiddleware_OriginMatching(t *testing.T) {
	const allowed = "https://app.example.com, http://localhost:3000/"

	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{"no origin uses first entry", "", "https://app.example.com"},
		{"second entry echoed", "http://localhost:3000", "http://localhost:3000"},
		{"case insensitive", "HTTPS://APP.EXAMPLE.COM", "HTTPS://APP.EXAMPLE.COM"},
		{"unknown origin", "https://evil.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := serve(NewCORSMiddleware(allowed)(okHandler()), req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d (non-preflight requests always pass)", w.Code, http.StatusOK)
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{"allowed origin", "http://localhost:3000", http.StatusNoContent},
		{"unknown origin", "https://evil.example.com", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCORSMiddleware("http://localhost:3000")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodOptions, "/api/todos", nil)
			req.Header.Set("Origin", tt.origin)
			w := serve(handler, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called {
				t.Error("next handler should not be called for OPTIONS preflight")
			}
		})
	}
}

func TestCORSMiddleware_EmptyConfigSendsNoHeaders(t *testing.T) {
	w := serve(NewCORSMiddleware("")(okHandler()), httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}
