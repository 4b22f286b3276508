package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

const (
	// CleanupInterval is how often the memory store prunes stale unpaid records.
	CleanupInterval = 1 * time.Hour
	// UnpaidRetention is how long an unpaid verification is kept in memory.
	UnpaidRetention = 24 * time.Hour
)

// Source records who reported a verification.
type Source string

const (
	SourceVerify  Source = "verify"
	SourceWebhook Source = "webhook"
)

// Verification is the backend's record of a checkout session's payment state.
type Verification struct {
	SessionID     string
	Kind          string // credits | subscription
	Paid          bool
	Status        string
	AmountCents   int64
	Currency      string
	Credits       int
	CustomerEmail string
	Source        Source
	VerifiedAt    time.Time
}

// Store is the verification ledger.
//
// A paid record is final: once a session is recorded as paid, later writes for
// the same session leave it untouched. RecordVerification returns the record
// that is stored after the call, which may be the earlier paid one.
type Store interface {
	RecordVerification(ctx context.Context, v Verification) (Verification, error)
	GetVerification(ctx context.Context, sessionID string) (Verification, error)
	Close() error
}

// NewStore creates a Store from the storage configuration.
func NewStore(cfg config.StorageConfig, m *metrics.Metrics) (Store, error) {
	return NewStoreWithDB(cfg, nil, m)
}

// NewStoreWithDB creates a Store with an optional shared database pool.
// Pass nil to let postgres backends open their own connection.
func NewStoreWithDB(cfg config.StorageConfig, sharedDB *sql.DB, m *metrics.Metrics) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		// Records are lost on restart; use postgres when verifications must survive it.
		return NewMemoryStore(), nil
	case "postgres":
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB, cfg.TableName, m)
		}
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.TableName, cfg.PostgresPool, m)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// MemoryStore is an in-memory Store implementation suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	verifications map[string]Verification // sessionID -> record
	now           func() time.Time
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore constructs a MemoryStore and starts background cleanup.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		verifications: make(map[string]Verification),
		now:           time.Now,
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	defer close(m.cleanupDone)

	for {
		select {
		case <-m.stopCleanup:
			return
		case <-ticker.C:
			m.removeStaleUnpaid()
		}
	}
}

// removeStaleUnpaid deletes unpaid records older than UnpaidRetention. Paid records are kept.
func (m *MemoryStore) removeStaleUnpaid() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-UnpaidRetention)
	removed := 0
	for id, v := range m.verifications {
		if !v.Paid && v.VerifiedAt.Before(cutoff) {
			delete(m.verifications, id)
			removed++
		}
	}
	return removed
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCleanup)
		<-m.cleanupDone
	})
}

// Close implements the Store interface by calling Stop.
func (m *MemoryStore) Close() error {
	m.Stop()
	return nil
}

// RecordVerification upserts v unless the session is already recorded as paid.
func (m *MemoryStore) RecordVerification(_ context.Context, v Verification) (Verification, error) {
	if err := validate(&v, m.now); err != nil {
		return Verification{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.verifications[v.SessionID]; ok && existing.Paid {
		return existing, nil
	}
	m.verifications[v.SessionID] = v
	return v, nil
}

// GetVerification returns the record for sessionID.
func (m *MemoryStore) GetVerification(_ context.Context, sessionID string) (Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.verifications[sessionID]
	if !ok {
		return Verification{}, ErrNotFound
	}
	return v, nil
}

func validate(v *Verification, now func() time.Time) error {
	v.SessionID = strings.TrimSpace(v.SessionID)
	if v.SessionID == "" {
		return errors.New("storage: session id required")
	}
	if v.VerifiedAt.IsZero() {
		v.VerifiedAt = now()
	}
	v.VerifiedAt = v.VerifiedAt.UTC()
	if v.Source == "" {
		v.Source = SourceVerify
	}
	return nil
}
