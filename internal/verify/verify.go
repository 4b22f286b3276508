// Package verify asks the backend whether a checkout session was paid.
// It is fail-closed: anything short of an explicit paid answer is unpaid.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/transport"
)

// ErrInconclusive means no channel gave a definitive answer.
var ErrInconclusive = errors.New("verify: could not confirm payment")

// Type is the verification request type.
type Type string

const (
	TypePayment      Type = "payment"
	TypeSubscription Type = "subscription"
)

// Request is the body sent to invoke and POST channels.
type Request struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
}

// Response is the payload returned by verification channels.
type Response struct {
	Paid        *bool       `json:"paid,omitempty"`
	Status      string      `json:"status,omitempty"`
	AmountTotal *int64      `json:"amount_total,omitempty"`
	Credits     json.Number `json:"credits,omitempty"`
}

// paidStatuses are provider statuses that mean money was captured. A
// checkout "complete" status is absent: async payments complete while unpaid.
var paidStatuses = map[string]bool{"paid": true, "succeeded": true}

// definitive reports whether the response answers the question at all.
func (r Response) definitive() bool {
	return r.Paid != nil || strings.TrimSpace(r.Status) != ""
}

// isPaid applies the fail-closed rule. An explicit paid flag wins over status.
func (r Response) isPaid() bool {
	if r.Paid != nil {
		return *r.Paid
	}
	return paidStatuses[strings.ToLower(strings.TrimSpace(r.Status))]
}

// Result is the terminal verification value for a session.
type Result struct {
	Paid      bool
	Pending   bool // no session id to verify (static fallback link)
	SessionID string
	Status    string
	Amount    *decimal.Decimal
	Credits   int
	Channel   string // endpoint that answered
	Err       error
}

// Service verifies sessions through a two-tier channel chain.
type Service struct {
	doer      transport.Doer
	endpoints []transport.Endpoint
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithTimeout bounds each channel attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records verification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a verification service over endpoints, tried in order.
func NewService(doer transport.Doer, endpoints []transport.Endpoint, opts ...Option) *Service {
	s := &Service{doer: doer, endpoints: endpoints, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig wires the verification chain from configuration.
func FromConfig(cfg *config.Config, doer transport.Doer, m *metrics.Metrics) *Service {
	return NewService(doer, transport.EndpointsFromConfig(cfg.Checkout.VerifyEndpoints),
		WithTimeout(cfg.Checkout.RequestTimeout.Duration),
		WithMetrics(m),
	)
}

// Verify asks each channel in turn until one answers definitively. It never
// returns Paid without an explicit paid answer, and it is never retried.
func (s *Service) Verify(ctx context.Context, typ Type, sessionID string) Result {
	log := logger.FromContext(ctx).With().
		Str("session_id", logger.TruncateID(sessionID)).
		Str("type", string(typ)).
		Logger()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		log.Info().Msg("verify.skipped_no_session")
		return Result{Pending: true}
	}

	var lastErr error
	for _, ep := range s.endpoints {
		resp, err := s.ask(ctx, ep, typ, sessionID)
		if err != nil {
			lastErr = err
			s.metrics.ObserveVerification(ep.Name, "error")
			log.Warn().Err(err).Str("endpoint", ep.Name).Msg("verify.channel_failed")
			continue
		}

		res := Result{
			Paid:      resp.isPaid(),
			SessionID: sessionID,
			Status:    resp.Status,
			Channel:   ep.Name,
		}
		if resp.AmountTotal != nil {
			amount := decimal.NewFromInt(*resp.AmountTotal).Shift(-2)
			res.Amount = &amount
		}
		if n, err := resp.Credits.Int64(); err == nil {
			res.Credits = int(n)
		}

		outcome := "unpaid"
		if res.Paid {
			outcome = "paid"
		}
		s.metrics.ObserveVerification(ep.Name, outcome)
		log.Info().Bool("paid", res.Paid).Str("endpoint", ep.Name).Msg("verify.result")
		return res
	}

	if lastErr == nil {
		lastErr = errors.New("no verification endpoints configured")
	}
	log.Warn().Err(lastErr).Msg("verify.inconclusive")
	return Result{SessionID: sessionID, Err: fmt.Errorf("%w: %w", ErrInconclusive, lastErr)}
}

func (s *Service) ask(ctx context.Context, ep transport.Endpoint, typ Type, sessionID string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := transport.Request{Body: Request{Type: typ, SessionID: sessionID}}
	if ep.Kind == transport.HTTPGet {
		req = transport.Request{Query: url.Values{"session_id": {sessionID}}}
	}

	body, err := s.doer.Do(ctx, ep, req)
	if err != nil {
		return Response{}, transport.Classify(ep, err)
	}

	var resp Response
	if err := transport.Decode(ep, body, &resp); err != nil {
		return Response{}, err
	}
	if !resp.definitive() {
		return Response{}, transport.MissingField(ep, "paid or status")
	}
	return resp, nil
}
