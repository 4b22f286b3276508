package transport

import (
	"context"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
)

// Guarded runs every attempt behind the endpoint's own circuit breaker.
type Guarded struct {
	next     Doer
	breakers *circuitbreaker.Manager
}

// Guard wraps next with per-endpoint breakers. A nil manager passes through.
func Guard(next Doer, breakers *circuitbreaker.Manager) *Guarded {
	return &Guarded{next: next, breakers: breakers}
}

// Do implements Doer. An open breaker surfaces as ErrBreakerOpen without a network call.
func (g *Guarded) Do(ctx context.Context, ep Endpoint, req Request) ([]byte, error) {
	out, err := g.breakers.Execute(ep.Name, func() (interface{}, error) {
		return g.next.Do(ctx, ep, req)
	})
	if err != nil {
		return nil, Classify(ep, err)
	}
	body, _ := out.([]byte)
	return body, nil
}
