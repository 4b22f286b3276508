package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Stripe         StripeConfig         `yaml:"stripe"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Pricing        PricingConfig        `yaml:"pricing"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration for the checkout backend.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional bearer key protecting /metrics
	IdempotencyTTL     Duration `yaml:"idempotency_ttl"`       // How long a created session is replayable by Idempotency-Key
}

// StripeConfig holds Stripe payment integration configuration.
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PublishableKey string `yaml:"publishable_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
	SuccessURL     string `yaml:"success_url"`
	CancelURL      string `yaml:"cancel_url"`
	MonthlyPriceID string `yaml:"monthly_price_id"` // Recurring price for the monthly plan
	YearlyPriceID  string `yaml:"yearly_price_id"`  // Recurring price for the yearly plan
	Mode           string `yaml:"mode"`             // live | test, derived from publishable key when empty
}

// Transport identifiers accepted in endpoint configuration.
const (
	TransportHTTPPost  = "http_post"
	TransportRPCInvoke = "rpc_invoke"
	TransportHTTPGet   = "http_get"
)

// EndpointConfig describes one backend endpoint in a priority list.
type EndpointConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // http_post | rpc_invoke | http_get
	URL       string `yaml:"url"`       // Absolute, or relative to checkout.base_url
	Function  string `yaml:"function"`  // Managed function name (rpc_invoke only)
}

// FallbackLinksConfig holds the provider-hosted payment link templates.
type FallbackLinksConfig struct {
	Credits string `yaml:"credits"`
	Monthly string `yaml:"monthly"`
	Yearly  string `yaml:"yearly"`
}

// CheckoutConfig holds the client-side checkout orchestration settings.
type CheckoutConfig struct {
	BaseURL               string              `yaml:"base_url"`      // Site origin used to resolve relative endpoint URLs
	FunctionsURL          string              `yaml:"functions_url"` // Managed backend base URL for rpc_invoke endpoints
	FunctionsKey          string              `yaml:"functions_key"` // Anonymous key sent to the managed backend
	SessionEndpoints      []EndpointConfig    `yaml:"session_endpoints"`
	SubscriptionEndpoints []EndpointConfig    `yaml:"subscription_endpoints"`
	VerifyEndpoints       []EndpointConfig    `yaml:"verify_endpoints"`
	FallbackLinks         FallbackLinksConfig `yaml:"fallback_links"`
	PaymentMethod         string              `yaml:"payment_method"`
	ProductName           string              `yaml:"product_name"`
	Origin                string              `yaml:"origin"`          // Origin accepted for completion messages
	CompletionAddr        string              `yaml:"completion_addr"` // Local listener for the CLI purchaser
	RequestTimeout        Duration            `yaml:"request_timeout"` // Per-endpoint attempt timeout
	WindowLifetime        Duration            `yaml:"window_lifetime"` // Hard cap on an open checkout window
	PollInterval          Duration            `yaml:"poll_interval"`   // Window closed-state polling interval
}

// PricingConfig holds credit pricing.
type PricingConfig struct {
	UnitRate float64         `yaml:"unit_rate"`
	Presets  map[int]float64 `yaml:"presets"` // quantity -> fixed price, authoritative over unit_rate
	Currency string          `yaml:"currency"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig holds the verification ledger backend configuration.
type StorageConfig struct {
	Backend      string             `yaml:"backend"` // "memory" or "postgres"
	PostgresURL  string             `yaml:"postgres_url"`
	TableName    string             `yaml:"table_name"` // Default: checkout_verifications
	PostgresPool PostgresPoolConfig `yaml:"postgres_pool"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RateLimitConfig holds per-IP rate limiting for session creation endpoints.
type RateLimitConfig struct {
	Enabled     bool     `yaml:"enabled"`
	PerIPLimit  int      `yaml:"per_ip_limit"`
	PerIPWindow Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for outbound calls.
type CircuitBreakerConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	Endpoints BreakerServiceConfig `yaml:"endpoints"`  // Applied to every session/verification endpoint
	StripeAPI BreakerServiceConfig `yaml:"stripe_api"` // Backend Stripe API calls
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
