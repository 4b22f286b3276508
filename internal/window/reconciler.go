package window

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
)

// MessageType tags a completion message posted by the checkout return pages.
type MessageType string

const (
	MessageSuccess   MessageType = "stripe-payment-success"
	MessageCancelled MessageType = "stripe-payment-cancelled"
)

// Message is a completion message. Origin is set by the receiving side, not
// taken from the payload.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
	Origin    string      `json:"-"`
}

// Signal is what reconciled a window.
type Signal string

const (
	// SignalMessage is a success message; verification follows.
	SignalMessage Signal = "message"
	// SignalClosed is the window closing without a message; verification decides.
	SignalClosed Signal = "closed"
	// SignalCancelled is an explicit cancel message; no verification.
	SignalCancelled Signal = "cancelled"
	// SignalAbandoned is the lifetime cap firing; no verification.
	SignalAbandoned Signal = "abandoned"
)

// Outcome is the single reconciled result for one window.
type Outcome struct {
	Signal    Signal
	SessionID string // from a success message, when it carried one
	At        time.Time
}

// NeedsVerification reports whether the outcome must be confirmed before granting anything.
func (o Outcome) NeedsVerification() bool {
	return o.Signal == SignalMessage || o.Signal == SignalClosed
}

const (
	DefaultPollInterval = time.Second
	DefaultLifetime     = 30 * time.Minute
)

// Reconciler turns the racing completion signals for a window into exactly one Outcome.
type Reconciler struct {
	origin       string
	clock        Clock
	pollInterval time.Duration
	lifetime     time.Duration
	metrics      *metrics.Metrics
}

// ReconcilerOption customizes a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source.
func WithClock(c Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithPollInterval sets how often the window's closed state is checked.
func WithPollInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithLifetime sets the hard cap on an open window.
func WithLifetime(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.lifetime = d
		}
	}
}

// WithMetrics records reconciled signals.
func WithMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// NewReconciler creates a reconciler accepting messages only from origin.
func NewReconciler(origin string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		origin:       strings.TrimRight(origin, "/"),
		clock:        RealClock(),
		pollInterval: DefaultPollInterval,
		lifetime:     DefaultLifetime,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Await blocks until w is reconciled and returns the one Outcome for it.
// The closed-state poll, the lifetime timer and the message subscription all
// end when Await returns; nothing observed afterwards can produce a second
// outcome. The window is closed on every path except the user closing it.
func (r *Reconciler) Await(ctx context.Context, w *Window, messages <-chan Message) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	poll := r.clock.NewTicker(r.pollInterval)
	defer poll.Stop()
	lifetime := r.clock.NewTimer(r.lifetime)
	defer lifetime.Stop()

	log := logger.FromContext(ctx).With().Str("window", w.Name).Logger()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return Outcome{}, fmt.Errorf("window: await %s: %w", w.Name, ctx.Err())

		case msg, ok := <-messages:
			if !ok {
				// Source gone; keep polling until close or cap.
				messages = nil
				continue
			}
			if !r.trusted(msg) {
				log.Debug().
					Str("origin", msg.Origin).
					Str("type", string(msg.Type)).
					Msg("reconcile.message_ignored")
				continue
			}
			_ = w.Close()
			if msg.Type == MessageCancelled {
				return r.settle(log, Outcome{Signal: SignalCancelled, At: r.clock.Now()}), nil
			}
			return r.settle(log, Outcome{Signal: SignalMessage, SessionID: msg.SessionID, At: r.clock.Now()}), nil

		case <-poll.C():
			if w.IsClosed() {
				return r.settle(log, Outcome{Signal: SignalClosed, At: r.clock.Now()}), nil
			}

		case <-lifetime.C():
			if err := w.Close(); err != nil {
				log.Warn().Err(err).Msg("reconcile.force_close_failed")
			}
			return r.settle(log, Outcome{Signal: SignalAbandoned, At: r.clock.Now()}), nil
		}
	}
}

func (r *Reconciler) trusted(msg Message) bool {
	if msg.Type != MessageSuccess && msg.Type != MessageCancelled {
		return false
	}
	return r.origin != "" && strings.TrimRight(msg.Origin, "/") == r.origin
}

func (r *Reconciler) settle(log zerolog.Logger, o Outcome) Outcome {
	r.metrics.ObserveSignal(string(o.Signal))
	ev := log.Info()
	if o.Signal == SignalAbandoned {
		ev = log.Warn()
	}
	ev.Str("signal", string(o.Signal)).
		Str("session_id", logger.TruncateID(o.SessionID)).
		Msg("reconcile.signal")
	return o
}
