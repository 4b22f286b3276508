package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the CHECKOUT_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CHECKOUT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CHECKOUT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CHECKOUT_ADMIN_METRICS_API_KEY")
	if v := os.Getenv("CHECKOUT_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "CHECKOUT_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "CHECKOUT_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "CHECKOUT_ENVIRONMENT")

	// Stripe config
	setIfEnv(&c.Stripe.SecretKey, "CHECKOUT_STRIPE_SECRET_KEY")
	setIfEnv(&c.Stripe.PublishableKey, "CHECKOUT_STRIPE_PUBLISHABLE_KEY")
	setIfEnv(&c.Stripe.WebhookSecret, "CHECKOUT_STRIPE_WEBHOOK_SECRET")
	setIfEnv(&c.Stripe.SuccessURL, "CHECKOUT_STRIPE_SUCCESS_URL")
	setIfEnv(&c.Stripe.CancelURL, "CHECKOUT_STRIPE_CANCEL_URL")
	setIfEnv(&c.Stripe.MonthlyPriceID, "CHECKOUT_STRIPE_MONTHLY_PRICE_ID")
	setIfEnv(&c.Stripe.YearlyPriceID, "CHECKOUT_STRIPE_YEARLY_PRICE_ID")
	setIfEnv(&c.Stripe.Mode, "CHECKOUT_STRIPE_MODE")

	// Checkout config
	setIfEnv(&c.Checkout.BaseURL, "CHECKOUT_BASE_URL")
	setIfEnv(&c.Checkout.FunctionsURL, "CHECKOUT_FUNCTIONS_URL")
	setIfEnv(&c.Checkout.FunctionsKey, "CHECKOUT_FUNCTIONS_KEY")
	setIfEnv(&c.Checkout.FallbackLinks.Credits, "CHECKOUT_FALLBACK_CREDITS_URL")
	setIfEnv(&c.Checkout.FallbackLinks.Monthly, "CHECKOUT_FALLBACK_MONTHLY_URL")
	setIfEnv(&c.Checkout.FallbackLinks.Yearly, "CHECKOUT_FALLBACK_YEARLY_URL")
	setIfEnv(&c.Checkout.PaymentMethod, "CHECKOUT_PAYMENT_METHOD")
	setIfEnv(&c.Checkout.ProductName, "CHECKOUT_PRODUCT_NAME")
	setIfEnv(&c.Checkout.Origin, "CHECKOUT_ORIGIN")
	setIfEnv(&c.Checkout.CompletionAddr, "CHECKOUT_COMPLETION_ADDR")
	setDurationIfEnv(&c.Checkout.RequestTimeout, "CHECKOUT_REQUEST_TIMEOUT")
	setDurationIfEnv(&c.Checkout.WindowLifetime, "CHECKOUT_WINDOW_LIFETIME")
	setDurationIfEnv(&c.Checkout.PollInterval, "CHECKOUT_POLL_INTERVAL")

	// Pricing config
	if v := os.Getenv("CHECKOUT_PRICING_UNIT_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Pricing.UnitRate = rate
		}
	}
	setIfEnv(&c.Pricing.Currency, "CHECKOUT_PRICING_CURRENCY")

	// Storage config
	setIfEnv(&c.Storage.Backend, "CHECKOUT_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "CHECKOUT_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.TableName, "CHECKOUT_STORAGE_TABLE_NAME")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "CHECKOUT_RATE_LIMIT_ENABLED")
	if v := os.Getenv("CHECKOUT_RATE_LIMIT_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.PerIPLimit = n
		}
	}

	setBoolIfEnv(&c.CircuitBreaker.Enabled, "CHECKOUT_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// splitList splits a comma separated env value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
