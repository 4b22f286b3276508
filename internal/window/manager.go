package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CedrosPay/checkout/internal/logger"
)

// ErrPopupBlocked is returned when the host refuses to open a window. The
// caller decides whether to redirect the hosting page instead.
var ErrPopupBlocked = errors.New("window: popup blocked")

// NamePrefix prefixes every checkout window name.
const NamePrefix = "stripe-checkout-"

// Handle is the narrow view of a platform window.
type Handle interface {
	IsClosed() bool
	Close() error
}

// Opener opens url in a new window called name. A nil handle or
// ErrPopupBlocked means the host refused.
type Opener interface {
	Open(ctx context.Context, url, name string) (Handle, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url, name string) (Handle, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, url, name string) (Handle, error) {
	return f(ctx, url, name)
}

// Capabilities come from the caller's device detection. This package never
// inspects the platform itself.
type Capabilities struct {
	IsMobile    bool
	IsIOSSafari bool
}

// PreferRedirect reports whether the caller should navigate instead of opening a popup.
func (c Capabilities) PreferRedirect() bool {
	return c.IsMobile || c.IsIOSSafari
}

// Window is an open checkout window. Only its Manager and Reconciler close it.
type Window struct {
	Name     string
	URL      string
	OpenedAt time.Time

	handle    Handle
	closeOnce sync.Once
	closeErr  error
}

// IsClosed reports whether the window is gone, by user action or by us.
func (w *Window) IsClosed() bool {
	return w.handle.IsClosed()
}

// Close closes the window once; later calls return the first result.
func (w *Window) Close() error {
	w.closeOnce.Do(func() {
		if w.handle.IsClosed() {
			return
		}
		w.closeErr = w.handle.Close()
	})
	return w.closeErr
}

// Manager opens one fresh, uniquely named window per checkout.
type Manager struct {
	opener Opener
	clock  Clock
}

// NewManager creates a window manager. A nil clock uses real time.
func NewManager(opener Opener, clock Clock) *Manager {
	if clock == nil {
		clock = RealClock()
	}
	return &Manager{opener: opener, clock: clock}
}

// Open opens url in a new window. Handles are never reused across checkouts.
func (m *Manager) Open(ctx context.Context, url string) (*Window, error) {
	log := logger.FromContext(ctx)
	name := NamePrefix + uuid.NewString()
	h, err := m.opener.Open(ctx, url, name)
	if errors.Is(err, ErrPopupBlocked) || (err == nil && h == nil) {
		log.Warn().Str("window", name).Msg("window.popup_blocked")
		return nil, ErrPopupBlocked
	}
	if err != nil {
		return nil, fmt.Errorf("window: open %s: %w", name, err)
	}

	log.Debug().Str("window", name).Msg("window.opened")
	return &Window{Name: name, URL: url, OpenedAt: m.clock.Now(), handle: h}, nil
}
