package config

import "strings"

// Environment is the Stripe account mode a publishable key belongs to.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// EnvironmentFromKey derives the environment from a Stripe publishable key.
// Only an explicit pk_live_ key selects live; empty or unrecognised keys stay in test.
func EnvironmentFromKey(publishableKey string) Environment {
	if strings.HasPrefix(strings.TrimSpace(publishableKey), "pk_live_") {
		return EnvironmentLive
	}
	return EnvironmentTest
}

// IsLive reports whether the configured Stripe mode is live.
func (s StripeConfig) IsLive() bool {
	return s.Mode == string(EnvironmentLive)
}

// Fallback targets exposed by the resolver.
const (
	FallbackCredits = "credits"
	FallbackMonthly = "monthly"
	FallbackYearly  = "yearly"
)

// Target returns the link template for a fallback target name.
func (f FallbackLinksConfig) Target(name string) string {
	switch name {
	case FallbackCredits:
		return f.Credits
	case FallbackMonthly:
		return f.Monthly
	case FallbackYearly:
		return f.Yearly
	default:
		return ""
	}
}

// Empty reports whether no fallback link is configured at all.
func (f FallbackLinksConfig) Empty() bool {
	return f.Credits == "" && f.Monthly == "" && f.Yearly == ""
}
