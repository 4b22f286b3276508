package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"alice@example.com", "al***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "[redacted]"},
	}
	for _, tt := range tests {
		if got := RedactEmail(tt.in); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncateID(t *testing.T) {
	if got := TruncateID("cs_short"); got != "cs_short" {
		t.Errorf("expected short ids untouched, got %q", got)
	}
	if got := TruncateID("cs_test_a1b2c3d4e5f6g7h8"); got != "cs_test_a1...g7h8" {
		t.Errorf("unexpected truncation %q", got)
	}
}

func TestFromContext_Fallback(t *testing.T) {
	var buf bytes.Buffer
	log := FromContext(context.Background())
	log = log.Output(&buf)
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected nop logger without context value, got %q", buf.String())
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "info", Service: "checkout-test", Output: &buf})

	var seen string
	handler := Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req_fixed" {
		t.Errorf("expected request id in context, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != "req_fixed" {
		t.Errorf("expected request id echoed, got %q", rec.Header().Get("X-Request-ID"))
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one json log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "request.completed" || entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("unexpected log entry %v", entry)
	}
}
