package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	stripeapi "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/pricing"
	"github.com/CedrosPay/checkout/internal/rpcutil"
)

var (
	// ErrSessionNotFound is returned when Stripe has no session with the given id.
	ErrSessionNotFound = errors.New("stripe: checkout session not found")
	// ErrPlanNotConfigured is returned when the plan has no recurring price id.
	ErrPlanNotConfigured = errors.New("stripe: plan price not configured")
	// ErrWebhookSecret is returned when webhooks arrive without a configured secret.
	ErrWebhookSecret = errors.New("stripe: webhook secret not configured")
)

// SessionAPI is the subset of the Checkout Sessions API the backend uses.
type SessionAPI interface {
	New(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
	Get(id string, params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error)
}

type liveSessions struct{}

func (liveSessions) New(params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
	return session.New(params)
}

func (liveSessions) Get(id string, params *stripeapi.CheckoutSessionParams) (*stripeapi.CheckoutSession, error) {
	return session.Get(id, params)
}

// Client wraps stripe-go operations used by the checkout backend.
type Client struct {
	cfg      config.StripeConfig
	api      SessionAPI
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	retry    rpcutil.Policy
}

// Option customizes a Client.
type Option func(*Client)

// WithSessionAPI replaces the live Stripe API, mainly for tests.
func WithSessionAPI(api SessionAPI) Option {
	return func(c *Client) {
		c.api = api
	}
}

// WithBreakers guards Stripe calls with the stripe_api circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) Option {
	return func(c *Client) {
		c.breakers = m
	}
}

// WithMetrics records Stripe call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRetryPolicy overrides how session lookups are retried.
func WithRetryPolicy(p rpcutil.Policy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient sets up stripe-go with the provided credentials.
func NewClient(cfg config.StripeConfig, opts ...Option) *Client {
	stripeapi.Key = cfg.SecretKey
	retry := rpcutil.DefaultPolicy()
	retry.MaxRetries = 2
	c := &Client{cfg: cfg, api: liveSessions{}, retry: retry}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PaymentRequest describes a one-time credit purchase.
type PaymentRequest struct {
	Quote         pricing.Quote
	ProductName   string
	CustomerEmail string
	FirstName     string
	LastName      string
	Guest         bool
	SuccessURL    string
	CancelURL     string
}

// SubscriptionRequest describes a recurring plan purchase.
type SubscriptionRequest struct {
	Plan          string // monthly | yearly
	CustomerEmail string
	Guest         bool
	SuccessURL    string
	CancelURL     string
}

// Session is the part of a Checkout Session returned to callers.
type Session struct {
	ID  string
	URL string
}

// CreatePaymentSession builds a one-time Checkout Session priced from quote.
func (c *Client) CreatePaymentSession(ctx context.Context, req PaymentRequest) (Session, error) {
	if req.Quote.Cents <= 0 {
		return Session{}, errors.New("stripe: amount required")
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(firstNonEmpty(req.SuccessURL, c.cfg.SuccessURL)),
		CancelURL:          stripeapi.String(firstNonEmpty(req.CancelURL, c.cfg.CancelURL)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Quantity: stripeapi.Int64(1),
				PriceData: &stripeapi.CheckoutSessionLineItemPriceDataParams{
					Currency: stripeapi.String(req.Quote.Currency),
					ProductData: &stripeapi.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripeapi.String(fmt.Sprintf("%s (%d)", firstNonEmpty(req.ProductName, "Credits"), req.Quote.Quantity)),
					},
					UnitAmount: stripeapi.Int64(req.Quote.Cents),
				},
			},
		},
	}
	params.Metadata = buildMetadata(map[string]string{
		"kind":       "credits",
		"credits":    strconv.Itoa(req.Quote.Quantity),
		"first_name": req.FirstName,
		"last_name":  req.LastName,
	}, req.Guest)
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	s, err := c.call(ctx, "create_payment_session", func() (*stripeapi.CheckoutSession, error) {
		return c.api.New(params)
	})
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

// CreateSubscriptionSession builds a subscription Checkout Session for plan.
func (c *Client) CreateSubscriptionSession(ctx context.Context, req SubscriptionRequest) (Session, error) {
	priceID := c.priceFor(req.Plan)
	if priceID == "" {
		return Session{}, fmt.Errorf("%w: %q", ErrPlanNotConfigured, req.Plan)
	}

	params := &stripeapi.CheckoutSessionParams{
		Mode:               stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"card"}),
		SuccessURL:         stripeapi.String(firstNonEmpty(req.SuccessURL, c.cfg.SuccessURL)),
		CancelURL:          stripeapi.String(firstNonEmpty(req.CancelURL, c.cfg.CancelURL)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{
				Price:    stripeapi.String(priceID),
				Quantity: stripeapi.Int64(1),
			},
		},
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{},
	}
	params.Metadata = buildMetadata(map[string]string{
		"kind": "subscription",
		"plan": req.Plan,
	}, req.Guest)
	params.SubscriptionData.Metadata = map[string]string{"plan": req.Plan}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripeapi.String(req.CustomerEmail)
	}

	s, err := c.call(ctx, "create_subscription_session", func() (*stripeapi.CheckoutSession, error) {
		return c.api.New(params)
	})
	if err != nil {
		return Session{}, fmt.Errorf("stripe: create subscription checkout: %w", err)
	}
	return Session{ID: s.ID, URL: s.URL}, nil
}

// SessionStatus is what the backend knows about a session's payment.
type SessionStatus struct {
	SessionID     string
	Paid          bool
	Status        string // Stripe payment_status
	AmountTotal   int64  // minor units
	Currency      string
	Credits       int
	Kind          string
	CustomerEmail string
}

// GetSession fetches a session and reports whether it was paid.
func (c *Client) GetSession(ctx context.Context, sessionID string) (SessionStatus, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionStatus{}, ErrSessionNotFound
	}
	// Lookups are idempotent, so transient failures are retried. Creation never is.
	policy := c.retry
	policy.Retryable = retryableStripeError
	s, err := rpcutil.WithRetry(ctx, "stripe.get_session", policy, func() (*stripeapi.CheckoutSession, error) {
		return c.call(ctx, "get_session", func() (*stripeapi.CheckoutSession, error) {
			return c.api.Get(sessionID, nil)
		})
	})
	if err != nil {
		var serr *stripeapi.Error
		if errors.As(err, &serr) && (serr.Code == stripeapi.ErrorCodeResourceMissing || serr.HTTPStatusCode == 404) {
			return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return SessionStatus{}, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	return statusOf(s), nil
}

// WebhookEvent wraps the subset of event types we care about.
type WebhookEvent struct {
	Type    string
	Session SessionStatus
}

// Completed reports whether the event finished a checkout.
func (e WebhookEvent) Completed() bool {
	return e.Type == "checkout.session.completed" || e.Type == "checkout.session.async_payment_succeeded"
}

// ParseWebhook validates event signatures and normalises the payload.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, signature string) (WebhookEvent, error) {
	if c.cfg.WebhookSecret == "" {
		return WebhookEvent{}, ErrWebhookSecret
	}
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: construct event: %w", err)
	}

	out := WebhookEvent{Type: event.Type}
	if !out.Completed() {
		return out, nil
	}
	var checkout stripeapi.CheckoutSession
	if err := jsonExtract(event.Data.Raw, &checkout); err != nil {
		return WebhookEvent{}, err
	}
	if checkout.ID == "" {
		return WebhookEvent{}, errors.New("stripe: webhook missing session id")
	}
	out.Session = statusOf(&checkout)
	log := logger.FromContext(ctx)
	log.Info().
		Str("event_type", event.Type).
		Str("session_id", logger.TruncateID(checkout.ID)).
		Bool("paid", out.Session.Paid).
		Msg("stripe.webhook.parsed")
	return out, nil
}

func (c *Client) priceFor(plan string) string {
	switch plan {
	case config.FallbackMonthly:
		return c.cfg.MonthlyPriceID
	case config.FallbackYearly:
		return c.cfg.YearlyPriceID
	}
	return ""
}

func (c *Client) call(ctx context.Context, operation string, fn func() (*stripeapi.CheckoutSession, error)) (*stripeapi.CheckoutSession, error) {
	start := time.Now()
	out, err := c.breakers.Execute(circuitbreaker.ServiceStripe, func() (interface{}, error) {
		return fn()
	})
	c.metrics.ObserveStripeCall(operation, time.Since(start))
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("operation", operation).Msg("stripe.call_failed")
		return nil, err
	}
	s, ok := out.(*stripeapi.CheckoutSession)
	if !ok || s == nil {
		return nil, errors.New("stripe: empty session response")
	}
	return s, nil
}

func retryableStripeError(err error) bool {
	if circuitbreaker.IsOpen(err) {
		return false
	}
	var serr *stripeapi.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode == 429 || serr.HTTPStatusCode >= 500
	}
	return rpcutil.IsTransient(err)
}

func statusOf(s *stripeapi.CheckoutSession) SessionStatus {
	st := SessionStatus{
		SessionID:     s.ID,
		Paid:          s.PaymentStatus == stripeapi.CheckoutSessionPaymentStatusPaid,
		Status:        string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: s.CustomerEmail,
	}
	if s.Metadata != nil {
		st.Kind = s.Metadata["kind"]
		if n, err := strconv.Atoi(s.Metadata["credits"]); err == nil {
			st.Credits = n
		}
	}
	return st
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// buildMetadata drops blank values; Stripe rejects empty metadata strings.
func buildMetadata(values map[string]string, guest bool) map[string]string {
	out := make(map[string]string, len(values)+1)
	for k, v := range values {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	out["guest"] = strconv.FormatBool(guest)
	return out
}

func jsonExtract(data []byte, v any) error {
	if len(data) == 0 {
		return errors.New("stripe: webhook payload empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stripe: decode webhook payload: %w", err)
	}
	return nil
}
