package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerStub struct {
	name  string
	order *[]string
	err   error
}

func (c closerStub) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestShutdown_ReverseOrder(t *testing.T) {
	var order []string
	m := NewManager(zerolog.Nop())
	m.Register("store", closerStub{name: "store", order: &order})
	m.RegisterFunc("breakers", func() error {
		order = append(order, "breakers")
		return nil
	})
	m.RegisterShutdown("http", func(ctx context.Context) error {
		order = append(order, "http")
		return nil
	})

	require.NoError(t, m.Close())
	assert.Equal(t, []string{"http", "breakers", "store"}, order)
}

func TestShutdown_ContinuesAfterFailure(t *testing.T) {
	var order []string
	var logs bytes.Buffer
	m := NewManager(zerolog.New(&logs))

	first := errors.New("ledger: close failed")
	m.Register("store", closerStub{name: "store", order: &order, err: errors.New("second failure")})
	m.Register("ledger", closerStub{name: "ledger", order: &order, err: first})
	m.Register("http", closerStub{name: "http", order: &order})

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, first)
	assert.Equal(t, []string{"http", "ledger", "store"}, order)
	assert.Contains(t, logs.String(), "lifecycle.close_resource_failed")
	assert.Contains(t, logs.String(), `"resource":"store"`)
}

func TestShutdown_RunsOnce(t *testing.T) {
	calls := 0
	m := NewManager(zerolog.Nop())
	m.RegisterFunc("counter", func() error {
		calls++
		return nil
	})

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, calls)
}

func TestShutdown_PassesDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(zerolog.Nop())
	m.RegisterShutdown("http", func(ctx context.Context) error { return ctx.Err() })

	assert.ErrorIs(t, m.Shutdown(ctx), context.Canceled)
}
