package dbpool

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/rpcutil"
)

func TestOpen_UnreachableFailsAfterRetries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Nothing listens on port 1.
	_, err := open(ctx, "postgres", "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1",
		config.PostgresPoolConfig{}, rpcutil.Policy{MaxRetries: 1, BaseDelay: time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dbpool: ping")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := open(context.Background(), "nope", "", config.PostgresPoolConfig{}, rpcutil.DefaultPolicy())
	assert.ErrorContains(t, err, "dbpool: open")
}

func TestOpen_Postgres(t *testing.T) {
	dsn := os.Getenv("CHECKOUT_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CHECKOUT_TEST_POSTGRES_URL not set")
	}
	pool, err := Open(context.Background(), dsn, config.PostgresPoolConfig{MaxOpenConns: 3})
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, 3, pool.DB().Stats().MaxOpenConnections)
}
