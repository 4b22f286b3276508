package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
)

const (
	// DefaultQueryTimeout is the maximum time allowed for a ledger query.
	DefaultQueryTimeout = 5 * time.Second
	// DefaultTableName is the verification ledger table.
	DefaultTableName = "checkout_verifications"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool // Close only closes connections we opened
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresStore opens a connection pool and prepares the ledger table.
func NewPostgresStore(connectionString, tableName string, pool config.PostgresPoolConfig, m *metrics.Metrics) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	config.ApplyPostgresPoolSettings(db, pool)

	store, err := newPostgresStore(db, tableName, m)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewPostgresStoreWithDB creates a store over an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB, tableName string, m *metrics.Metrics) (*PostgresStore, error) {
	return newPostgresStore(db, tableName, m)
}

func newPostgresStore(db *sql.DB, tableName string, m *metrics.Metrics) (*PostgresStore, error) {
	if tableName == "" {
		tableName = DefaultTableName
	}
	if !tableNamePattern.MatchString(tableName) {
		return nil, fmt.Errorf("storage: invalid table name %q", tableName)
	}
	s := &PostgresStore{db: db, tableName: tableName, metrics: m}
	if err := s.createTable(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultQueryTimeout)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL DEFAULT '',
			paid BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT '',
			amount_cents BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			credits INTEGER NOT NULL DEFAULT 0,
			customer_email TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			verified_at TIMESTAMP NOT NULL
		)`, s.tableName)
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create %s: %w", s.tableName, err)
	}
	return nil
}

// withQueryTimeout applies DefaultQueryTimeout unless ctx already has a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}

// RecordVerification upserts v. A row that is already paid is never overwritten.
func (s *PostgresStore) RecordVerification(ctx context.Context, v Verification) (Verification, error) {
	if err := validate(&v, time.Now); err != nil {
		return Verification{}, err
	}
	defer metrics.MeasureDBQuery(s.metrics, "record_verification", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, kind, paid, status, amount_cents, currency, credits, customer_email, source, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE
		SET kind           = EXCLUDED.kind,
		    paid           = EXCLUDED.paid,
		    status         = EXCLUDED.status,
		    amount_cents   = EXCLUDED.amount_cents,
		    currency       = EXCLUDED.currency,
		    credits        = EXCLUDED.credits,
		    customer_email = EXCLUDED.customer_email,
		    source         = EXCLUDED.source,
		    verified_at    = EXCLUDED.verified_at
		WHERE %s.paid = FALSE
	`, s.tableName, s.tableName)

	if _, err := s.db.ExecContext(ctx, query,
		v.SessionID, v.Kind, v.Paid, v.Status, v.AmountCents, v.Currency,
		v.Credits, v.CustomerEmail, string(v.Source), v.VerifiedAt,
	); err != nil {
		return Verification{}, fmt.Errorf("record verification: %w", err)
	}
	return s.get(ctx, v.SessionID)
}

// GetVerification returns the record for sessionID.
func (s *PostgresStore) GetVerification(ctx context.Context, sessionID string) (Verification, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_verification", "postgres")()

	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.get(ctx, sessionID)
}

func (s *PostgresStore) get(ctx context.Context, sessionID string) (Verification, error) {
	query := fmt.Sprintf(`
		SELECT session_id, kind, paid, status, amount_cents, currency, credits, customer_email, source, verified_at
		FROM %s WHERE session_id = $1
	`, s.tableName)

	var (
		v      Verification
		source string
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&v.SessionID, &v.Kind, &v.Paid, &v.Status, &v.AmountCents, &v.Currency,
		&v.Credits, &v.CustomerEmail, &source, &v.VerifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Verification{}, ErrNotFound
	}
	if err != nil {
		return Verification{}, fmt.Errorf("get verification: %w", err)
	}
	v.Source = Source(source)
	v.VerifiedAt = v.VerifiedAt.UTC()
	return v, nil
}

// Close releases the connection pool if this store opened it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
