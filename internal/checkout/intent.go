package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIntent is returned for intents that cannot be priced or dispatched.
	ErrInvalidIntent = errors.New("checkout: invalid intent")
	// ErrInvalidPlan is returned for subscription plans other than monthly/yearly.
	ErrInvalidPlan = errors.New("checkout: invalid plan")
	// ErrConfiguration is returned when neither an endpoint nor a fallback link can serve an intent.
	ErrConfiguration = errors.New("checkout: configuration error")
)

// Kind distinguishes one-off credit purchases from subscriptions.
type Kind string

const (
	KindCredits      Kind = "credits"
	KindSubscription Kind = "subscription"
)

// Plan is a normalized subscription plan.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

// NormalizePlan accepts "annual" as a synonym of yearly.
func NormalizePlan(raw string) (Plan, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "monthly":
		return PlanMonthly, nil
	case "yearly", "annual":
		return PlanYearly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, raw)
	}
}

// Customer carries the optional buyer details forwarded to the payment provider.
type Customer struct {
	Email     string
	FirstName string
	LastName  string
	IsGuest   bool
}

// Intent is a committed purchase. It is passed by value and never mutated downstream.
type Intent struct {
	Kind         Kind
	Quantity     int  // credits, KindCredits only
	Plan         Plan // KindSubscription only
	Customer     Customer
	ProductLabel string
}

// CreditsIntent builds an intent to buy quantity credits.
func CreditsIntent(quantity int, customer Customer) Intent {
	return Intent{Kind: KindCredits, Quantity: quantity, Customer: customer}
}

// SubscriptionIntent builds an intent for a plan, normalizing its name.
func SubscriptionIntent(plan string, customer Customer) (Intent, error) {
	p, err := NormalizePlan(plan)
	if err != nil {
		return Intent{}, err
	}
	return Intent{Kind: KindSubscription, Plan: p, Customer: customer}, nil
}

// Validate checks the intent's shape. Quantity bounds are enforced by pricing.
func (i Intent) Validate() error {
	switch i.Kind {
	case KindCredits:
		return nil
	case KindSubscription:
		if _, err := NormalizePlan(string(i.Plan)); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, i.Kind)
	}
}

// fallbackTarget names the static link template for the intent.
func (i Intent) fallbackTarget() string {
	if i.Kind == KindSubscription {
		return string(i.Plan)
	}
	return string(KindCredits)
}
