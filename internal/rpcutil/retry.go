package rpcutil

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/CedrosPay/checkout/internal/logger"
)

// Policy controls WithRetry. Only idempotent operations (session lookups,
// connection checks) should be retried; session creation never is.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Retryable decides whether an error is worth another attempt.
	// Nil uses IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy retries transient errors three times: 100ms, 200ms, 400ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// WithRetry runs operation until it succeeds, fails permanently, or ctx ends.
func WithRetry[T any](ctx context.Context, name string, p Policy, operation func() (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var result T
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == p.MaxRetries {
			return result, err
		}

		delay := p.BaseDelay * time.Duration(1<<uint(attempt))
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt+1).
			Int("max_attempts", p.MaxRetries+1).
			Dur("retry_delay", delay).
			Msg("rpc.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}
	return result, err
}

// IsTransient reports network failures, throttling and 5xx answers.
// Typed errors are checked first; the message scan covers drivers and SDKs
// that only report text.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"the database system is starting up",
}
