package cedros

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/dbpool"
	"github.com/CedrosPay/checkout/internal/httpserver"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/lifecycle"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/storage"
	stripesvc "github.com/CedrosPay/checkout/internal/stripe"
)

// ErrNoServer is returned by ListenAndServe when the app was mounted on a
// caller-supplied router.
var ErrNoServer = errors.New("cedros: app has no server of its own")

// App wires the checkout backend for embedding or standalone serving.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Stripe   httpserver.StripeBackend
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics

	logger    zerolog.Logger
	handler   http.Handler
	server    *httpserver.Server
	resources *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store    storage.Store
	stripe   httpserver.StripeBackend
	router   chi.Router
	registry *prometheus.Registry
	logger   *zerolog.Logger
}

// WithStore sets a custom verification ledger. The caller keeps ownership.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithStripe replaces the Stripe client, mostly for tests.
func WithStripe(backend httpserver.StripeBackend) Option {
	return func(o *options) {
		o.stripe = backend
	}
}

// WithRouter mounts the checkout routes onto an existing chi.Router.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithLogger overrides the logger built from cfg.Logging.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &log
	}
}

// NewApp assembles the checkout backend.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("cedros: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "cedros-checkout",
		Environment: cfg.Logging.Environment,
	})
	if optState.logger != nil {
		appLogger = *optState.logger
	}

	registry := optState.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	app := &App{
		Config:    cfg,
		Metrics:   metrics.New(registry),
		Breakers:  circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, circuitbreaker.WithLogger(appLogger)),
		logger:    appLogger,
		resources: lifecycle.NewManager(appLogger),
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		var shared *sql.DB
		if cfg.Storage.Backend == "postgres" {
			pool, err := dbpool.Open(context.Background(), cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
			if err != nil {
				return nil, err
			}
			// Registered before the store so the store closes first.
			app.resources.Register("postgres-pool", pool)
			shared = pool.DB()
		}
		store, err := storage.NewStoreWithDB(cfg.Storage, shared, app.Metrics)
		if err != nil {
			_ = app.resources.Close()
			return nil, err
		}
		app.Store = store
		app.resources.Register("storage", store)
		if _, ok := store.(*storage.MemoryStore); ok {
			appLogger.Warn().Msg("cedros: verification ledger is in memory and will not survive a restart")
		}
	}

	if optState.stripe != nil {
		app.Stripe = optState.stripe
	} else {
		if cfg.Stripe.SecretKey == "" {
			appLogger.Warn().Msg("cedros: stripe.secret_key is empty, session creation will fail")
		}
		app.Stripe = stripesvc.NewClient(cfg.Stripe,
			stripesvc.WithBreakers(app.Breakers),
			stripesvc.WithMetrics(app.Metrics),
		)
	}

	replays := idempotency.NewMemoryStore()
	app.resources.Register("idempotency-store", replays)

	deps := httpserver.Deps{
		Stripe:    app.Stripe,
		Store:     app.Store,
		Replays:   replays,
		ReplayTTL: cfg.Server.IdempotencyTTL.Duration,
		Metrics:   app.Metrics,
		Gatherer:  registry,
		Logger:    appLogger,
	}

	if optState.router != nil {
		httpserver.ConfigureRouter(optState.router, cfg, deps)
		app.handler = optState.router
	} else {
		app.server = httpserver.New(cfg, deps)
		app.handler = app.server.Handler()
		// Registered last so in-flight requests drain before the ledger closes.
		app.resources.RegisterShutdown("http-server", app.server.Shutdown)
	}

	return app, nil
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ListenAndServe serves on cfg.Server.Address until Shutdown.
// It returns nil after a graceful shutdown.
func (a *App) ListenAndServe() error {
	if a.server == nil {
		return ErrNoServer
	}
	a.logger.Info().Str("address", a.Config.Server.Address).Str("stripe_mode", a.Config.Stripe.Mode).Msg("server.starting")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, if any, and releases owned resources.
func (a *App) Shutdown(ctx context.Context) error {
	return a.resources.Shutdown(ctx)
}

// Close is Shutdown without a deadline.
func (a *App) Close() error {
	return a.resources.Close()
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the backend.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
