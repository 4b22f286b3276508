package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/CedrosPay/checkout/internal/config"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
)

// Config holds per-IP rate limiting for session creation routes.
type Config struct {
	Enabled bool
	Limit   int           // requests per window
	Window  time.Duration // time window

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// DefaultConfig returns the limits used when nothing is configured.
// Creating a checkout session is a handful of requests per purchase, so 30/min per IP
// leaves plenty of room for retries.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Limit:   30,
		Window:  1 * time.Minute,
	}
}

// FromConfig converts the rate_limit configuration section.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	out := Config{
		Enabled: cfg.Enabled,
		Limit:   cfg.PerIPLimit,
		Window:  cfg.PerIPWindow.Duration,
		Metrics: m,
	}
	def := DefaultConfig()
	if out.Limit <= 0 {
		out.Limit = def.Limit
	}
	if out.Window <= 0 {
		out.Window = def.Window
	}
	return out
}

// limitHandler writes the standard error envelope for a rejected request.
func limitHandler(route string, window time.Duration, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(route)
		log := logger.FromContext(r.Context())
		log.Warn().
			Str("route", route).
			Msg("ratelimit.exceeded")

		seconds := int(window.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		apierrors.WriteError(w, apierrors.ErrCodeRateLimited, "Rate limit exceeded. Please try again later.", map[string]any{
			"retry_after_seconds": seconds,
		})
	}
}

// IPLimiter creates a per-IP limiter for one route. Each call gets its own counters.
func IPLimiter(cfg Config, route string) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitHandler(route, cfg.Window, cfg.Metrics)),
	)
}
