package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/todoman/internal/model"
)

func TestRecoveryMiddleware_PanicReturns500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	const deviceID = "9a4c6f1e-2b3d-4e5f-8a9b-0c1d2e3f4a5b"
	req := httptest.NewRequest(http.MethodGet, "/api/todos", nil)
	req.Header.Set(DeviceHeaderName, deviceID)
	w := serve(handler, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log record: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "panic recovered" || entry["panic"] != "boom" {
		t.Errorf("log entry = %v", entry)
	}
	if entry["device_id"] != deviceID {
		t.Errorf("device_id = %v, want %s", entry["device_id"], deviceID)
	}
}

func TestRecoveryMiddleware_RepanicsAbortHandler(t *testing.T) {
	handler := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	serve(handler, httptest.NewRequest(http.MethodGet, "/api/events", nil))
}

func TestSecurityHeadersMiddleware_SetsHeaders(t *testing.T) {
	w := serve(NewSecurityHeadersMiddleware(false)(okHandler()), httptest.NewRequest(http.MethodGet, "/api/state", nil))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "strict-origin-when-cross-origin",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
		"Cross-Origin-Resource-Policy": "same-site",
		"Cache-Control":                "no-store",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want unset over plain HTTP", got)
	}
}

func TestSecurityHeadersMiddleware_HSTS(t *testing.T) {
	w := serve(NewSecurityHeadersMiddleware(true)(okHandler()), httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("Strict-Transport-Security = %q", got)
	}
}
