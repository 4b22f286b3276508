package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/checkout/internal/config"
)

// ErrInvalidQuantity is returned for quantities that are not positive.
var ErrInvalidQuantity = errors.New("pricing: quantity must be positive")

// DefaultUnitRate is the per-credit price applied outside the preset table.
var DefaultUnitRate = decimal.RequireFromString("1.40")

// DefaultPresets mirror the fixed-price presets configured at the payment provider.
func DefaultPresets() map[int]decimal.Decimal {
	return map[int]decimal.Decimal{
		50:  decimal.NewFromInt(70),
		100: decimal.NewFromInt(140),
		250: decimal.NewFromInt(350),
		500: decimal.NewFromInt(700),
	}
}

// Quote is the resolved price for a credit quantity.
type Quote struct {
	Quantity int
	Amount   decimal.Decimal // two decimal places
	Cents    int64
	Currency string
	Preset   bool
}

// AmountString renders the amount with exactly two decimals ("51.80").
func (q Quote) AmountString() string {
	return q.Amount.StringFixed(2)
}

// AmountFloat is the amount as sent in request payloads.
func (q Quote) AmountFloat() float64 {
	f, _ := q.Amount.Float64()
	return f
}

// Resolver maps credit quantities to prices.
type Resolver struct {
	unitRate decimal.Decimal
	presets  map[int]decimal.Decimal
	currency string
}

// NewResolver creates a resolver with the default rate and preset table.
func NewResolver() *Resolver {
	return &Resolver{
		unitRate: DefaultUnitRate,
		presets:  DefaultPresets(),
		currency: "usd",
	}
}

// FromConfig builds a resolver from the pricing section.
func FromConfig(cfg config.PricingConfig) *Resolver {
	r := NewResolver()
	if cfg.UnitRate > 0 {
		r.unitRate = decimal.NewFromFloat(cfg.UnitRate)
	}
	if len(cfg.Presets) > 0 {
		r.presets = make(map[int]decimal.Decimal, len(cfg.Presets))
		for qty, price := range cfg.Presets {
			r.presets[qty] = decimal.NewFromFloat(price).Round(2)
		}
	}
	if cfg.Currency != "" {
		r.currency = cfg.Currency
	}
	return r
}

// Resolve returns the price for quantity. Presets are table lookups and win
// over the per-unit formula even when both agree.
func (r *Resolver) Resolve(quantity int) (Quote, error) {
	if quantity <= 0 {
		return Quote{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	q := Quote{Quantity: quantity, Currency: r.currency}
	if price, ok := r.presets[quantity]; ok {
		q.Amount = price
		q.Preset = true
	} else {
		// decimal.Round is half away from zero, i.e. half-up for positive amounts.
		q.Amount = decimal.NewFromInt(int64(quantity)).Mul(r.unitRate).Round(2)
	}
	q.Cents = q.Amount.Shift(2).IntPart()
	return q, nil
}

// Presets returns the preset quantities in ascending order.
func (r *Resolver) Presets() []int {
	out := make([]int, 0, len(r.presets))
	for qty := range r.presets {
		out = append(out, qty)
	}
	sort.Ints(out)
	return out
}

// UnitRate returns the per-credit rate.
func (r *Resolver) UnitRate() decimal.Decimal {
	return r.unitRate
}
