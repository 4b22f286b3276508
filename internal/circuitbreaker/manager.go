package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/CedrosPay/checkout/internal/config"
)

// ServiceStripe names the breaker guarding backend Stripe API calls.
const ServiceStripe = "stripe_api"

// Manager hands out one circuit breaker per named endpoint so a failing
// endpoint is isolated from the rest of the fallback chain.
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   Config
	log      zerolog.Logger
}

// Config holds circuit breaker configuration.
type Config struct {
	Enabled bool

	// Endpoints applies to every session and verification endpoint.
	Endpoints BreakerConfig

	// StripeAPI applies to the backend's calls into Stripe.
	StripeAPI BreakerConfig
}

// BreakerConfig configures a single circuit breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval is the cyclic period in closed state to clear the internal counts.
	// If 0, never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration

	// Trip on ConsecutiveFailures, or on FailureRatio once MinRequests have been seen.
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger logs breaker state transitions.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManagerFromConfig creates a circuit breaker manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig, opts ...Option) *Manager {
	return NewManager(Config{
		Enabled:   cfg.Enabled,
		Endpoints: fromServiceConfig(cfg.Endpoints),
		StripeAPI: fromServiceConfig(cfg.StripeAPI),
	}, opts...)
}

func fromServiceConfig(c config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         c.MaxRequests,
		Interval:            c.Interval.Duration,
		Timeout:             c.Timeout.Duration,
		ConsecutiveFailures: c.ConsecutiveFailures,
		FailureRatio:        c.FailureRatio,
		MinRequests:         c.MinRequests,
	}
}

// NewManager creates a circuit breaker manager with the given configuration.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   cfg,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs fn behind the breaker for name. A nil or disabled manager passes through.
func (m *Manager) Execute(name string, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.config.Enabled {
		return fn()
	}
	return m.breaker(name).Execute(fn)
}

func (m *Manager) breaker(name string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}
	cfg := m.config.Endpoints
	if name == ServiceStripe {
		cfg = m.config.StripeAPI
	}
	b := gobreaker.NewCircuitBreaker(m.settings(name, cfg))
	m.breakers[name] = b
	return b
}

// State returns the current state of a circuit breaker.
// Returns "disabled" if circuit breakers are not enabled, "not_configured" before first use.
func (m *Manager) State(name string) string {
	if m == nil || !m.config.Enabled {
		return "disabled"
	}

	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return "not_configured"
	}
	return b.State().String()
}

// Counts returns the current counts for a circuit breaker.
func (m *Manager) Counts(name string) Counts {
	if m == nil || !m.config.Enabled {
		return Counts{}
	}

	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()
	if !ok {
		return Counts{}
	}

	c := b.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts represents circuit breaker statistics.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (m *Manager) settings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				if failureRate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit_breaker.state_change")
		},
	}
}

// DefaultConfig returns sensible defaults for circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Endpoints: BreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 3,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		StripeAPI: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
	}
}
