package checkout

import (
	"context"
	"errors"
	"fmt"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/verify"
	"github.com/CedrosPay/checkout/internal/window"
)

// OutcomeKind is the end state of one purchase.
type OutcomeKind string

const (
	// OutcomePaid is the only outcome that grants credits or access.
	OutcomePaid OutcomeKind = "paid"
	// OutcomeUnconfirmed means verification answered unpaid or could not answer.
	OutcomeUnconfirmed OutcomeKind = "unconfirmed"
	// OutcomePending is a static fallback purchase with no session id to verify.
	OutcomePending OutcomeKind = "pending"
	// OutcomeCancelled is an explicit cancel from the checkout page.
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeAbandoned is a window that outlived its lifetime cap.
	OutcomeAbandoned OutcomeKind = "abandoned"
	// OutcomeRedirect asks the caller to navigate to Session.URL itself.
	OutcomeRedirect OutcomeKind = "redirect"
)

// Outcome is the result of Purchase.
type Outcome struct {
	Kind         OutcomeKind
	Session      *Session
	Verification verify.Result
	Code         apierrors.ErrorCode // why value was not granted, when there is an error to report
	Message      string
}

// Verifier confirms a session with the backend.
type Verifier interface {
	Verify(ctx context.Context, typ verify.Type, sessionID string) verify.Result
}

// Callbacks are the purchase side effects. Exactly one of them runs per
// purchase at most, and OnPaid only after an explicit paid verification.
type Callbacks struct {
	OnPaid      func(verify.Result)
	OnCancelled func(code apierrors.ErrorCode)
}

// Flow drives one purchase end to end: session, window, reconciliation,
// verification, callback.
type Flow struct {
	orchestrator *Orchestrator
	windows      *window.Manager
	reconciler   *window.Reconciler
	verifier     Verifier
	callbacks    Callbacks
}

// NewFlow wires the purchase flow.
func NewFlow(o *Orchestrator, windows *window.Manager, reconciler *window.Reconciler, verifier Verifier, callbacks Callbacks) *Flow {
	return &Flow{
		orchestrator: o,
		windows:      windows,
		reconciler:   reconciler,
		verifier:     verifier,
		callbacks:    callbacks,
	}
}

// Purchase runs intent to a terminal Outcome. messages carries completion
// messages from the checkout return pages; it may be nil. Errors are returned
// only for invalid intents, missing configuration, or ctx cancellation.
func (f *Flow) Purchase(ctx context.Context, intent Intent, caps window.Capabilities, messages <-chan window.Message) (Outcome, error) {
	session, err := f.orchestrator.CreateSession(ctx, intent)
	if err != nil {
		return Outcome{}, err
	}
	log := logger.FromContext(ctx).With().
		Str("kind", string(intent.Kind)).
		Str("method", string(session.Method)).
		Logger()

	if caps.PreferRedirect() {
		log.Info().Msg("checkout.redirect_preferred")
		return Outcome{Kind: OutcomeRedirect, Session: session, Message: "Continue to checkout in this tab"}, nil
	}

	w, err := f.windows.Open(ctx, session.URL)
	if errors.Is(err, window.ErrPopupBlocked) {
		return Outcome{
			Kind:    OutcomeRedirect,
			Session: session,
			Code:    apierrors.ErrCodePopupBlocked,
			Message: "Popup blocked; continue to checkout in this tab",
		}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("checkout: open window: %w", err)
	}

	reconciled, err := f.reconciler.Await(ctx, w, messages)
	if err != nil {
		return Outcome{}, err
	}

	switch reconciled.Signal {
	case window.SignalCancelled:
		f.cancelled(apierrors.ErrCodeCancelled)
		return Outcome{Kind: OutcomeCancelled, Session: session, Code: apierrors.ErrCodeCancelled, Message: "Checkout cancelled"}, nil

	case window.SignalAbandoned:
		f.cancelled(apierrors.ErrCodeAbandonedTimeout)
		return Outcome{
			Kind:    OutcomeAbandoned,
			Session: session,
			Code:    apierrors.ErrCodeAbandonedTimeout,
			Message: "Checkout window timed out",
		}, nil
	}

	// A payment link purchase is never verified, whatever the return page reports.
	sessionID := session.SessionID
	if sessionID == "" && session.Method != MethodStaticFallback {
		sessionID = reconciled.SessionID
	}
	if session.Method == MethodStaticFallback || sessionID == "" {
		log.Info().Msg("checkout.unverifiable_pending")
		return Outcome{
			Kind:         OutcomePending,
			Session:      session,
			Verification: verify.Result{Pending: true},
			Message:      "Payment submitted through a payment link; it will be applied once confirmed",
		}, nil
	}

	typ := verify.TypePayment
	if intent.Kind == KindSubscription {
		typ = verify.TypeSubscription
	}
	result := f.verifier.Verify(ctx, typ, sessionID)

	if result.Paid {
		if f.callbacks.OnPaid != nil {
			f.callbacks.OnPaid(result)
		}
		return Outcome{Kind: OutcomePaid, Session: session, Verification: result, Message: "Payment confirmed"}, nil
	}

	f.cancelled(apierrors.ErrCodeVerificationInconclusive)
	msg := "Could not confirm payment"
	if result.Err != nil {
		msg += ": " + apierrors.Describe(result.Err)
	}
	return Outcome{
		Kind:         OutcomeUnconfirmed,
		Session:      session,
		Verification: result,
		Code:         apierrors.ErrCodeVerificationInconclusive,
		Message:      msg,
	}, nil
}

func (f *Flow) cancelled(code apierrors.ErrorCode) {
	if f.callbacks.OnCancelled != nil {
		f.callbacks.OnCancelled(code)
	}
}
