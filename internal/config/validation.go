package config

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrConfiguration marks configuration that can never produce a checkout.
// It is fatal and never retried.
var ErrConfiguration = errors.New("config: configuration error")

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	// Mode follows the publishable key unless explicitly pinned.
	if c.Stripe.Mode == "" {
		c.Stripe.Mode = string(EnvironmentFromKey(c.Stripe.PublishableKey))
	}

	if c.Checkout.PaymentMethod == "" {
		c.Checkout.PaymentMethod = "stripe"
	}
	if c.Checkout.RequestTimeout.Duration <= 0 {
		c.Checkout.RequestTimeout = Duration{Duration: 10 * time.Second}
	}
	if c.Checkout.WindowLifetime.Duration <= 0 {
		c.Checkout.WindowLifetime = Duration{Duration: 30 * time.Minute}
	}
	if c.Checkout.PollInterval.Duration <= 0 {
		c.Checkout.PollInterval = Duration{Duration: time.Second}
	}
	if c.Checkout.Origin == "" && c.Checkout.BaseURL != "" {
		if u, err := url.Parse(c.Checkout.BaseURL); err == nil && u.Host != "" {
			c.Checkout.Origin = u.Scheme + "://" + u.Host
		}
	}

	if c.Pricing.Currency == "" {
		c.Pricing.Currency = "usd"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.TableName == "" {
		c.Storage.TableName = "checkout_verifications"
	}

	c.Checkout.SessionEndpoints = c.resolveEndpoints(c.Checkout.SessionEndpoints)
	c.Checkout.SubscriptionEndpoints = c.resolveEndpoints(c.Checkout.SubscriptionEndpoints)
	c.Checkout.VerifyEndpoints = c.resolveEndpoints(c.Checkout.VerifyEndpoints)

	return c.validate()
}

// resolveEndpoints fills in names and absolute URLs, dropping entries that cannot be addressed.
// An http endpoint with a relative URL and no base_url is unreachable, as is an rpc_invoke
// endpoint without functions_url.
func (c *Config) resolveEndpoints(in []EndpointConfig) []EndpointConfig {
	out := make([]EndpointConfig, 0, len(in))
	for _, ep := range in {
		ep.Transport = strings.ToLower(strings.TrimSpace(ep.Transport))
		switch ep.Transport {
		case TransportRPCInvoke:
			if c.Checkout.FunctionsURL == "" || ep.Function == "" {
				continue
			}
			ep.URL = strings.TrimSuffix(c.Checkout.FunctionsURL, "/") + "/functions/v1/" + ep.Function
		case TransportHTTPPost, TransportHTTPGet:
			abs, ok := resolveURL(c.Checkout.BaseURL, ep.URL)
			if !ok {
				continue
			}
			ep.URL = abs
		default:
			continue
		}
		if ep.Name == "" {
			ep.Name = ep.URL
		}
		out = append(out, ep)
	}
	return out
}

func resolveURL(base, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		return u.String(), true
	}
	if base == "" {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", false
	}
	return b.ResolveReference(u).String(), true
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if len(c.Checkout.SessionEndpoints) == 0 && len(c.Checkout.SubscriptionEndpoints) == 0 &&
		c.Checkout.FallbackLinks.Empty() {
		errs = append(errs, "checkout: no session endpoints are reachable and all fallback links are empty")
	}
	for name, raw := range map[string]string{
		"credits": c.Checkout.FallbackLinks.Credits,
		"monthly": c.Checkout.FallbackLinks.Monthly,
		"yearly":  c.Checkout.FallbackLinks.Yearly,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Sprintf("checkout.fallback_links.%s must be an absolute URL", name))
		}
	}

	if c.Pricing.UnitRate <= 0 {
		errs = append(errs, "pricing.unit_rate must be positive")
	}
	for qty, price := range c.Pricing.Presets {
		if qty <= 0 || price <= 0 {
			errs = append(errs, fmt.Sprintf("pricing.presets entry %d=%v must be positive", qty, price))
		}
	}

	switch c.Stripe.Mode {
	case string(EnvironmentTest), string(EnvironmentLive):
	default:
		errs = append(errs, fmt.Sprintf("stripe.mode %q must be test or live", c.Stripe.Mode))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when backend is postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be memory or postgres", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
