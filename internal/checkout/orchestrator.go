package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/pricing"
	"github.com/CedrosPay/checkout/internal/transport"
)

const (
	defaultPaymentMethod  = "stripe"
	defaultAttemptTimeout = 10 * time.Second
)

// Orchestrator mints checkout sessions by walking a priority-ordered list of
// endpoints and degrading to a static payment link when all of them fail.
// Attempts are strictly sequential: racing them could mint duplicate
// provider sessions.
type Orchestrator struct {
	doer                  transport.Doer
	pricing               *pricing.Resolver
	sessionEndpoints      []transport.Endpoint
	subscriptionEndpoints []transport.Endpoint
	links                 config.FallbackLinksConfig
	paymentMethod         string
	productName           string
	attemptTimeout        time.Duration
	metrics               *metrics.Metrics
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSessionEndpoints sets the credit session endpoint chain.
func WithSessionEndpoints(eps []transport.Endpoint) Option {
	return func(o *Orchestrator) {
		o.sessionEndpoints = eps
	}
}

// WithSubscriptionEndpoints sets the subscription session endpoint chain.
func WithSubscriptionEndpoints(eps []transport.Endpoint) Option {
	return func(o *Orchestrator) {
		o.subscriptionEndpoints = eps
	}
}

// WithFallbackLinks sets the static payment link templates.
func WithFallbackLinks(links config.FallbackLinksConfig) Option {
	return func(o *Orchestrator) {
		o.links = links
	}
}

// WithPaymentMethod sets the payment rail identifier sent in every payload.
func WithPaymentMethod(method string) Option {
	return func(o *Orchestrator) {
		if method != "" {
			o.paymentMethod = method
		}
	}
}

// WithProductName sets the default product label.
func WithProductName(name string) Option {
	return func(o *Orchestrator) {
		o.productName = name
	}
}

// WithAttemptTimeout bounds each endpoint attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.attemptTimeout = d
		}
	}
}

// WithMetrics records attempt and session metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator. It fails with ErrConfiguration when
// there is neither an endpoint nor a fallback link to send a buyer to.
func NewOrchestrator(doer transport.Doer, resolver *pricing.Resolver, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		doer:           doer,
		pricing:        resolver,
		paymentMethod:  defaultPaymentMethod,
		attemptTimeout: defaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pricing == nil {
		o.pricing = pricing.NewResolver()
	}
	if len(o.sessionEndpoints) == 0 && len(o.subscriptionEndpoints) == 0 && o.links.Empty() {
		return nil, fmt.Errorf("%w: no session endpoints and no fallback links", ErrConfiguration)
	}
	return o, nil
}

// FromConfig wires an orchestrator from the checkout configuration.
func FromConfig(cfg *config.Config, doer transport.Doer, m *metrics.Metrics) (*Orchestrator, error) {
	return NewOrchestrator(doer, pricing.FromConfig(cfg.Pricing),
		WithSessionEndpoints(transport.EndpointsFromConfig(cfg.Checkout.SessionEndpoints)),
		WithSubscriptionEndpoints(transport.EndpointsFromConfig(cfg.Checkout.SubscriptionEndpoints)),
		WithFallbackLinks(cfg.Checkout.FallbackLinks),
		WithPaymentMethod(cfg.Checkout.PaymentMethod),
		WithProductName(cfg.Checkout.ProductName),
		WithAttemptTimeout(cfg.Checkout.RequestTimeout.Duration),
		WithMetrics(m),
	)
}

// CreateSession resolves a checkout URL for intent. Invalid intents are
// rejected before any network call. Individual endpoint failures never abort
// the chain; only a missing fallback link after every endpoint failed does.
func (o *Orchestrator) CreateSession(ctx context.Context, intent Intent) (*Session, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	session := &Session{Kind: intent.Kind}
	payload, err := o.payload(intent, session)
	if err != nil {
		return nil, err
	}

	// One key per pass: endpoints that share a backend replay one session.
	passKey := uuid.NewString()
	endpoints := o.sessionEndpoints
	if intent.Kind == KindSubscription {
		endpoints = o.subscriptionEndpoints
	}

	log := logger.FromContext(ctx).With().
		Str("kind", string(intent.Kind)).
		Str("email", logger.RedactEmail(intent.Customer.Email)).
		Logger()

	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("checkout: create session: %w", err)
		}

		attempt := o.attempt(ctx, ep, payload, passKey)
		session.Attempts = append(session.Attempts, attempt)
		o.metrics.ObserveEndpointAttempt(ep.Name, string(ep.Kind), attemptOutcome(attempt), attempt.Duration)

		if attempt.Succeeded() {
			session.URL = attempt.URL
			session.SessionID = attempt.SessionID
			session.Method = MethodDynamic
			log.Info().
				Str("endpoint", ep.Name).
				Str("session_id", logger.TruncateID(attempt.SessionID)).
				Int("attempts", len(session.Attempts)).
				Msg("checkout.session_created")
			o.metrics.ObserveSession(string(intent.Kind), string(MethodDynamic))
			return session, nil
		}

		log.Warn().
			Str("endpoint", ep.Name).
			Str("transport", string(ep.Kind)).
			Str("failure", string(attempt.Err.Kind)).
			Err(attempt.Err).
			Msg("checkout.endpoint_failed")
	}

	link, err := FallbackLink(o.links.Target(intent.fallbackTarget()), intent)
	if err != nil {
		log.Error().Err(err).Int("attempts", len(session.Attempts)).Msg("checkout.fallback_unavailable")
		return nil, err
	}
	session.URL = link
	session.Method = MethodStaticFallback
	log.Warn().
		Int("attempts", len(session.Attempts)).
		Msg("checkout.static_fallback")
	o.metrics.ObserveSession(string(intent.Kind), string(MethodStaticFallback))
	return session, nil
}

// QuickSubscribe skips the dynamic chain and returns the static subscription
// link for plan, prefilled with email when known.
func (o *Orchestrator) QuickSubscribe(ctx context.Context, plan string, email string) (*Session, error) {
	intent, err := SubscriptionIntent(plan, Customer{Email: email, IsGuest: true})
	if err != nil {
		return nil, err
	}
	link, err := FallbackLink(o.links.Target(intent.fallbackTarget()), intent)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("plan", string(intent.Plan)).
		Msg("checkout.quick_subscribe")
	o.metrics.ObserveSession(string(KindSubscription), string(MethodStaticFallback))
	return &Session{URL: link, Method: MethodStaticFallback, Kind: KindSubscription}, nil
}

// payload builds the request body once per pass.
func (o *Orchestrator) payload(intent Intent, session *Session) (Payload, error) {
	p := Payload{
		ProductName:   firstNonEmpty(intent.ProductLabel, o.productName),
		IsGuest:       intent.Customer.IsGuest,
		GuestEmail:    strings.TrimSpace(intent.Customer.Email),
		PaymentMethod: o.paymentMethod,
		FirstName:     intent.Customer.FirstName,
		LastName:      intent.Customer.LastName,
	}

	switch intent.Kind {
	case KindCredits:
		quote, err := o.pricing.Resolve(intent.Quantity)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
		}
		session.Quote = &quote
		p.Amount = quote.AmountFloat()
		p.Credits = intent.Quantity
	case KindSubscription:
		p.Plan = string(intent.Plan)
	}
	return p, nil
}

func (o *Orchestrator) attempt(ctx context.Context, ep transport.Endpoint, payload Payload, key string) Attempt {
	attemptCtx, cancel := context.WithTimeout(ctx, o.attemptTimeout)
	defer cancel()

	start := time.Now()
	a := Attempt{Endpoint: ep}
	body, err := o.doer.Do(attemptCtx, ep, transport.Request{Body: payload, IdempotencyKey: key})
	a.Duration = time.Since(start)
	if err != nil {
		a.Err = transport.Classify(ep, err)
		return a
	}

	var resp SessionResponse
	if err := transport.Decode(ep, body, &resp); err != nil {
		a.Err = transport.Classify(ep, err)
		return a
	}
	if strings.TrimSpace(resp.URL) == "" {
		a.Err = transport.MissingField(ep, "url")
		return a
	}
	a.URL = resp.URL
	a.SessionID = resp.SessionID
	return a
}

func attemptOutcome(a Attempt) string {
	if a.Succeeded() {
		return "success"
	}
	return string(a.Err.Kind)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
