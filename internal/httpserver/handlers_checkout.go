package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/CedrosPay/checkout/internal/checkout"
	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/pricing"
	stripesvc "github.com/CedrosPay/checkout/internal/stripe"
	"github.com/CedrosPay/checkout/internal/verify"
	"github.com/CedrosPay/checkout/pkg/responders"
)

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(serverStartTime).Round(time.Second).String(),
		"stripe_mode": h.cfg.Stripe.Mode,
		"live":        h.cfg.Stripe.IsLive(),
	})
}

// createPayment mints a one-time Checkout Session for a credit purchase.
// The amount is always recomputed from the credit count.
func (h *handlers) createPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var payload checkout.Payload
	if err := decodeJSON(w, r, &payload); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
		return
	}

	if !h.acceptsPaymentMethod(w, payload) {
		return
	}
	quote, err := h.pricing.Resolve(payload.Credits)
	if errors.Is(err, pricing.ErrInvalidQuantity) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidQuantity, "credits must be a positive integer")
		return
	}
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, err, nil)
		return
	}
	if payload.Amount != 0 && !decimal.NewFromFloat(payload.Amount).Equal(quote.Amount) {
		log.Warn().
			Int("credits", payload.Credits).
			Float64("requested_amount", payload.Amount).
			Str("amount", quote.AmountString()).
			Msg("checkout.amount_mismatch")
	}

	sess, err := h.stripe.CreatePaymentSession(r.Context(), stripesvc.PaymentRequest{
		Quote:         quote,
		ProductName:   firstNonEmpty(payload.ProductName, h.cfg.Checkout.ProductName),
		CustomerEmail: strings.TrimSpace(payload.GuestEmail),
		FirstName:     payload.FirstName,
		LastName:      payload.LastName,
		Guest:         payload.IsGuest,
	})
	if err != nil {
		h.metrics.ObserveBackendSession(string(checkout.KindCredits), "failed")
		log.Error().Err(err).Int("credits", payload.Credits).Msg("checkout.session_create_failed")
		writeStripeError(w, err)
		return
	}

	h.metrics.ObserveBackendSession(string(checkout.KindCredits), "created")
	log.Info().
		Str("session_id", logger.TruncateID(sess.ID)).
		Int("credits", quote.Quantity).
		Str("amount", quote.AmountString()).
		Bool("preset", quote.Preset).
		Msg("checkout.session_created")
	responders.JSON(w, http.StatusOK, checkout.SessionResponse{URL: sess.URL, SessionID: sess.ID})
}

// createSubscription mints a subscription Checkout Session for a plan.
func (h *handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var payload checkout.Payload
	if err := decodeJSON(w, r, &payload); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
		return
	}

	if !h.acceptsPaymentMethod(w, payload) {
		return
	}
	plan, err := checkout.NormalizePlan(payload.Plan)
	if err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidPlan, "plan must be monthly or yearly")
		return
	}

	sess, err := h.stripe.CreateSubscriptionSession(r.Context(), stripesvc.SubscriptionRequest{
		Plan:          string(plan),
		CustomerEmail: strings.TrimSpace(payload.GuestEmail),
		Guest:         payload.IsGuest,
	})
	if err != nil {
		h.metrics.ObserveBackendSession(string(checkout.KindSubscription), "failed")
		log.Error().Err(err).Str("plan", string(plan)).Msg("checkout.subscription_create_failed")
		writeStripeError(w, err)
		return
	}

	h.metrics.ObserveBackendSession(string(checkout.KindSubscription), "created")
	log.Info().
		Str("session_id", logger.TruncateID(sess.ID)).
		Str("plan", string(plan)).
		Msg("checkout.subscription_created")
	responders.JSON(w, http.StatusOK, checkout.SessionResponse{URL: sess.URL, SessionID: sess.ID})
}

// invokeFunction serves the managed-function channel. Bodies match the
// direct endpoints; verify-payment takes {type, sessionId}.
func (h *handlers) invokeFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch name {
	case "create-payment":
		h.createPayment(w, r)
	case "create-subscription":
		h.createSubscription(w, r)
	case "verify-payment":
		var req verify.Request
		if err := decodeJSON(w, r, &req); err != nil {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
			return
		}
		h.verifySession(w, r, req.SessionID)
	default:
		responders.JSON(w, http.StatusNotFound, apierrors.NewErrorResponse(
			apierrors.ErrCodeInvalidField, "unknown function", map[string]any{"function": name}))
	}
}

func (h *handlers) acceptsPaymentMethod(w http.ResponseWriter, payload checkout.Payload) bool {
	method := strings.TrimSpace(payload.PaymentMethod)
	if method == "" || strings.EqualFold(method, "stripe") {
		return true
	}
	apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "unsupported payment method", map[string]any{
		"paymentMethod": method,
	})
	return false
}

// writeStripeError maps Stripe adapter errors to API error codes.
func writeStripeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stripesvc.ErrPlanNotConfigured):
		apierrors.WriteError(w, apierrors.ErrCodeConfiguration, err, nil)
	case errors.Is(err, stripesvc.ErrSessionNotFound):
		apierrors.WriteError(w, apierrors.ErrCodeSessionNotFound, err, nil)
	default:
		apierrors.WriteError(w, apierrors.ErrCodeStripeError, err, nil)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
