package idempotency

import (
	"bytes"
	"net/http"
	"strings"
	"sync"
	"time"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
)

const (
	// HeaderKey carries the client's idempotency key.
	HeaderKey = "Idempotency-Key"
	// ReplayHeader marks a response served from the cache.
	ReplayHeader = "X-Idempotency-Replay"

	// DefaultTTL is how long a session response is replayable.
	DefaultTTL = 24 * time.Hour

	maxKeyLength = 255
)

// Option customizes the middleware.
type Option func(*settings)

type settings struct {
	ttl       time.Duration
	operation func(*http.Request) string
	metrics   *metrics.Metrics
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithOperation scopes keys by operation rather than by path, so the same
// key sent to /create-payment and to the create-payment function replays
// one session.
func WithOperation(fn func(*http.Request) string) Option {
	return func(s *settings) {
		s.operation = fn
	}
}

// WithMetrics records replays.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// StaticOperation scopes every request through the middleware to name.
func StaticOperation(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

// Middleware replays the first successful response for a repeated
// Idempotency-Key. A duplicate that arrives while the first request is still
// running waits for it instead of creating a second session.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	cfg := settings{
		ttl:       DefaultTTL,
		operation: func(r *http.Request) string { return r.Method + " " + r.URL.Path },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		mu       sync.Mutex
		inflight = make(map[string]chan struct{})
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := strings.TrimSpace(r.Header.Get(HeaderKey))
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(rawKey) > maxKeyLength {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "Idempotency-Key is too long")
				return
			}

			operation := cfg.operation(r)
			key := operation + ":" + rawKey
			log := logger.FromContext(r.Context())

			for {
				if cached, ok := store.Get(r.Context(), key); ok {
					cfg.metrics.ObserveIdempotentReplay(operation)
					log.Info().Str("operation", operation).Msg("idempotency.replay")
					replay(w, cached)
					return
				}

				mu.Lock()
				wait, busy := inflight[key]
				if !busy {
					done := make(chan struct{})
					inflight[key] = done
					mu.Unlock()
					defer func() {
						mu.Lock()
						delete(inflight, key)
						mu.Unlock()
						close(done)
					}()
					break
				}
				mu.Unlock()

				select {
				case <-wait:
					// The first request finished; replay it or, if it failed, run ours.
				case <-r.Context().Done():
					return
				}
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status >= 200 && rec.status < 300 {
				err := store.Set(r.Context(), key, &Response{
					StatusCode:  rec.status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        rec.body.Bytes(),
					CachedAt:    time.Now(),
				}, cfg.ttl)
				if err != nil {
					log.Warn().Err(err).Str("operation", operation).Msg("idempotency.store_failed")
				}
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *Response) {
	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

// recorder copies the response body while passing it through.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
