package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    Duration{Duration: 15 * time.Second},
			WriteTimeout:   Duration{Duration: 15 * time.Second},
			IdleTimeout:    Duration{Duration: 60 * time.Second},
			IdempotencyTTL: Duration{Duration: 24 * time.Hour},
		},
		Stripe: StripeConfig{
			SuccessURL: "http://localhost:8080/payment-success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "http://localhost:8080/payment-cancelled",
		},
		Checkout: CheckoutConfig{
			SessionEndpoints: []EndpointConfig{
				{Name: "netlify-create-payment", Transport: TransportHTTPPost, URL: "/.netlify/functions/create-payment"},
				{Name: "api-create-payment", Transport: TransportHTTPPost, URL: "/api/create-payment"},
				{Name: "functions-create-payment", Transport: TransportRPCInvoke, Function: "create-payment"},
			},
			SubscriptionEndpoints: []EndpointConfig{
				{Name: "netlify-create-subscription", Transport: TransportHTTPPost, URL: "/.netlify/functions/create-subscription"},
				{Name: "api-create-subscription", Transport: TransportHTTPPost, URL: "/api/create-subscription"},
				{Name: "functions-create-subscription", Transport: TransportRPCInvoke, Function: "create-subscription"},
			},
			VerifyEndpoints: []EndpointConfig{
				{Name: "functions-verify-payment", Transport: TransportRPCInvoke, Function: "verify-payment"},
				{Name: "netlify-verify-payment", Transport: TransportHTTPGet, URL: "/.netlify/functions/verify-payment"},
			},
			FallbackLinks: FallbackLinksConfig{
				Monthly: "https://buy.stripe.com/6oUaEX3Buf6m0V1fO11ZS00",
				Yearly:  "https://buy.stripe.com/14A4gzb3W8HY5bhatH1ZS01",
			},
			PaymentMethod:  "stripe",
			ProductName:    "Backlink Credits",
			CompletionAddr: "127.0.0.1:8787",
			RequestTimeout: Duration{Duration: 10 * time.Second},
			WindowLifetime: Duration{Duration: 30 * time.Minute},
			PollInterval:   Duration{Duration: 1 * time.Second},
		},
		Pricing: PricingConfig{
			UnitRate: 1.40,
			Presets: map[int]float64{
				50:  70,
				100: 140,
				250: 350,
				500: 700,
			},
			Currency: "usd",
		},
		Storage: StorageConfig{
			Backend:   "memory",
			TableName: "checkout_verifications",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			PerIPLimit:  30,
			PerIPWindow: Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Endpoints: BreakerServiceConfig{
				MaxRequests:         1,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			StripeAPI: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
