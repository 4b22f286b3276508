package lifecycle

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Manager tears down process resources in reverse registration order.
// Every resource is attempted even after an earlier one fails.
type Manager struct {
	mu        sync.Mutex
	logger    zerolog.Logger
	resources []resource
	closed    bool
}

type resource struct {
	name     string
	shutdown func(context.Context) error
}

// NewManager creates a manager that reports teardown failures to logger.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a closer, e.g. the verification ledger.
func (m *Manager) Register(name string, closer io.Closer) {
	m.RegisterShutdown(name, func(context.Context) error { return closer.Close() })
}

// RegisterFunc adds a plain cleanup function.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.RegisterShutdown(name, func(context.Context) error { return fn() })
}

// RegisterShutdown adds a cleanup that honours the shutdown deadline,
// such as http.Server.Shutdown.
func (m *Manager) RegisterShutdown(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, shutdown: fn})
}

// Shutdown runs every registered cleanup once, last registered first,
// and returns the first error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		if err := res.shutdown(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("resource", res.name).
				Msg("lifecycle.close_resource_failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.logger.Debug().Str("resource", res.name).Msg("lifecycle.resource_closed")
	}
	return firstErr
}

// Close implements io.Closer with no deadline.
func (m *Manager) Close() error {
	return m.Shutdown(context.Background())
}
