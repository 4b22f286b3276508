package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
)

// ErrorKind is the closed set of per-endpoint failure variants.
type ErrorKind string

const (
	ErrNetwork     ErrorKind = "network"
	ErrStatus      ErrorKind = "status"
	ErrDecode      ErrorKind = "decode"
	ErrMissingURL  ErrorKind = "missing_url"
	ErrBreakerOpen ErrorKind = "breaker_open"
)

// Error is a failed endpoint attempt. It is recovered locally by the next
// endpoint in the chain and never escapes as a bare interface value.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Status   int    // HTTP status for ErrStatus
	Detail   string // response body snippet for ErrStatus, missing field for ErrMissingURL
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrStatus:
		if e.Detail != "" {
			return fmt.Sprintf("Status: %d, Endpoint: %s, Type: %s: %s", e.Status, e.Endpoint, e.Kind, e.Detail)
		}
		return fmt.Sprintf("Status: %d, Endpoint: %s, Type: %s", e.Status, e.Endpoint, e.Kind)
	default:
		msg := fmt.Sprintf("Endpoint: %s, Type: %s", e.Endpoint, e.Kind)
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		} else if e.Detail != "" {
			msg += ": " + e.Detail
		}
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the attempt ran out of time.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Classify converts any attempt error into *Error, preserving an existing one.
func Classify(ep Endpoint, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if circuitbreaker.IsOpen(err) {
		return &Error{Kind: ErrBreakerOpen, Endpoint: ep.Name, Err: err}
	}
	return &Error{Kind: ErrNetwork, Endpoint: ep.Name, Err: err}
}

// MissingField reports a structurally invalid success response.
func MissingField(ep Endpoint, field string) *Error {
	return &Error{Kind: ErrMissingURL, Endpoint: ep.Name, Detail: "response missing " + field}
}
