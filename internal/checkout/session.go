package checkout

import (
	"time"

	"github.com/CedrosPay/checkout/internal/pricing"
	"github.com/CedrosPay/checkout/internal/transport"
)

// Method records how a session URL was obtained.
type Method string

const (
	// MethodDynamic is a provider session minted by a backend endpoint.
	MethodDynamic Method = "dynamic_session"
	// MethodStaticFallback is a provider-hosted payment link; it has no session id.
	MethodStaticFallback Method = "static_fallback"
)

// Payload is the request body sent to every session endpoint. The backend
// decodes the same shape.
type Payload struct {
	Amount        float64 `json:"amount,omitempty"`
	Credits       int     `json:"credits,omitempty"`
	Plan          string  `json:"plan,omitempty"`
	ProductName   string  `json:"productName"`
	IsGuest       bool    `json:"isGuest"`
	GuestEmail    string  `json:"guestEmail,omitempty"`
	PaymentMethod string  `json:"paymentMethod"`
	FirstName     string  `json:"firstName,omitempty"`
	LastName      string  `json:"lastName,omitempty"`
}

// SessionResponse is the success body returned by session endpoints.
type SessionResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// Attempt is one endpoint try within a single orchestration pass.
type Attempt struct {
	Endpoint  transport.Endpoint
	URL       string
	SessionID string
	Err       *transport.Error
	Duration  time.Duration
}

// Succeeded reports whether the attempt produced a checkout URL.
func (a Attempt) Succeeded() bool {
	return a.Err == nil && a.URL != ""
}

// Session is the resolved checkout target for an intent.
type Session struct {
	URL       string
	SessionID string // empty for MethodStaticFallback
	Method    Method
	Kind      Kind
	Quote     *pricing.Quote // credits only; the amount requested from dynamic endpoints
	Attempts  []Attempt
}

// Verifiable reports whether the session can be verified. Static fallback
// purchases cannot, and callers must surface them as pending.
func (s *Session) Verifiable() bool {
	return s != nil && s.SessionID != ""
}
