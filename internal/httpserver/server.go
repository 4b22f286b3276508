package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/pricing"
	"github.com/CedrosPay/checkout/internal/ratelimit"
	"github.com/CedrosPay/checkout/internal/storage"
	stripesvc "github.com/CedrosPay/checkout/internal/stripe"
)

var (
	serverStartTime = time.Now()
)

// StripeBackend is the Stripe surface the handlers need.
type StripeBackend interface {
	CreatePaymentSession(ctx context.Context, req stripesvc.PaymentRequest) (stripesvc.Session, error)
	CreateSubscriptionSession(ctx context.Context, req stripesvc.SubscriptionRequest) (stripesvc.Session, error)
	GetSession(ctx context.Context, sessionID string) (stripesvc.SessionStatus, error)
	ParseWebhook(ctx context.Context, payload []byte, signature string) (stripesvc.WebhookEvent, error)
}

// Deps are the collaborators handed to the router.
type Deps struct {
	Pricing   *pricing.Resolver
	Stripe    StripeBackend
	Store     storage.Store
	Replays   idempotency.Store // nil disables Idempotency-Key handling
	ReplayTTL time.Duration
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // served on /metrics; nil uses the default registry
	Logger    zerolog.Logger
}

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg     *config.Config
	pricing *pricing.Resolver
	stripe  StripeBackend
	store   storage.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	h := newHandlers(cfg, deps)
	h.mount(router, deps)

	return &Server{
		handlers: h,
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}
}

// ConfigureRouter attaches checkout routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, deps Deps) {
	if router == nil {
		return
	}
	h := newHandlers(cfg, deps)
	h.mount(router, deps)
}

func newHandlers(cfg *config.Config, deps Deps) handlers {
	h := handlers{
		cfg:     cfg,
		pricing: deps.Pricing,
		stripe:  deps.Stripe,
		store:   deps.Store,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}
	if h.pricing == nil {
		h.pricing = pricing.FromConfig(cfg.Pricing)
	}
	return h
}

func (handler handlers) mount(router chi.Router, deps Deps) {
	cfg := handler.cfg

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "apikey", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	prefix := cfg.Server.RoutePrefix
	limits := ratelimit.FromConfig(cfg.RateLimit, deps.Metrics)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Lightweight endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", handler.health)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).
			Handle(prefix+"/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	})

	// Endpoints that call Stripe
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		// Webhook and return pages stay at fixed paths for Stripe dashboard stability.
		r.Post("/webhook/stripe", handler.handleStripeWebhook)
		r.Get("/payment-success", handler.paymentSuccessPage)
		r.Get("/payment-cancelled", handler.paymentCancelledPage)

		r.With(ratelimit.IPLimiter(limits, "create_payment"), replays(deps, "create-payment")).
			Post(prefix+"/create-payment", handler.createPayment)
		r.With(ratelimit.IPLimiter(limits, "create_subscription"), replays(deps, "create-subscription")).
			Post(prefix+"/create-subscription", handler.createSubscription)
		r.Get(prefix+"/verify-payment", handler.verifyPaymentQuery)

		// Managed-function channel: same bodies, invoked by name.
		r.With(ratelimit.IPLimiter(limits, "functions"), functionsKeyAuth(cfg.Checkout.FunctionsKey), replays(deps, "")).
			Post(prefix+"/functions/v1/{name}", handler.invokeFunction)
	})
}

// replays scopes Idempotency-Key handling to a session operation. An empty
// operation takes the function name from the route.
func replays(deps Deps, operation string) func(http.Handler) http.Handler {
	if deps.Replays == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	scope := idempotency.StaticOperation(operation)
	if operation == "" {
		scope = func(r *http.Request) string { return chi.URLParam(r, "name") }
	}
	return idempotency.Middleware(deps.Replays,
		idempotency.WithOperation(scope),
		idempotency.WithTTL(deps.ReplayTTL),
		idempotency.WithMetrics(deps.Metrics),
	)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
