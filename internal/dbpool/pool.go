package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/rpcutil"
)

const pingTimeout = 5 * time.Second

// SharedPool is the one PostgreSQL pool the backend opens. The verification
// ledger and any later tables share it.
type SharedPool struct {
	db *sql.DB
}

// Open connects and pings, retrying while the database is still coming up.
func Open(ctx context.Context, connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	return open(ctx, "postgres", connectionString, poolConfig, rpcutil.DefaultPolicy())
}

func open(ctx context.Context, driver, dsn string, poolConfig config.PostgresPoolConfig, retry rpcutil.Policy) (*SharedPool, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}

	_, err = rpcutil.WithRetry(ctx, "dbpool.ping", retry, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return struct{}{}, db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dbpool: ping: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)
	return &SharedPool{db: db}, nil
}

// DB returns the pool for stores.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool. Call it after every store using it has closed.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
