package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CedrosPay/checkout/internal/config"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("Expected rate limiting to be enabled by default")
	}
	if cfg.Limit != 30 || cfg.Window != time.Minute {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestFromConfig_FillsDefaults(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{Enabled: true}, nil)
	if cfg.Limit != 30 || cfg.Window != time.Minute {
		t.Errorf("FromConfig() = %+v", cfg)
	}

	cfg = FromConfig(config.RateLimitConfig{Enabled: true, PerIPLimit: 5, PerIPWindow: config.Duration{Duration: time.Second}}, nil)
	if cfg.Limit != 5 || cfg.Window != time.Second {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}

func TestIPLimiter_Disabled(t *testing.T) {
	handler := IPLimiter(Config{Enabled: false}, "create_payment")(okHandler())

	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/create-payment", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	handler := IPLimiter(Config{Enabled: true, Limit: 3, Window: time.Minute, Metrics: m}, "create_payment")(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/create-payment", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, w.Code)
		}
	}

	req := httptest.NewRequest("POST", "/create-payment", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 after limit exceeded, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	var resp apierrors.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != apierrors.ErrCodeRateLimited || !resp.Error.Retryable {
		t.Errorf("unexpected error body %+v", resp)
	}
	if got := testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("create_payment")); got != 1 {
		t.Errorf("rate limit hits = %v, want 1", got)
	}

	// A different client is unaffected.
	req = httptest.NewRequest("POST", "/create-payment", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other IP got %d", w.Code)
	}
}
