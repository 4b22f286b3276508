package httpserver

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/checkout/internal/errors"
	"github.com/CedrosPay/checkout/internal/httputil"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/storage"
	stripesvc "github.com/CedrosPay/checkout/internal/stripe"
	"github.com/CedrosPay/checkout/internal/window"
	"github.com/CedrosPay/checkout/pkg/responders"
)

// verificationResponse is the body read by the client verification service.
type verificationResponse struct {
	Paid        bool   `json:"paid"`
	Status      string `json:"status"`
	SessionID   string `json:"sessionId"`
	AmountTotal int64  `json:"amount_total"`
	Currency    string `json:"currency,omitempty"`
	Credits     int    `json:"credits"`
}

// verifyPaymentQuery handles GET /verify-payment?session_id=.
func (h *handlers) verifyPaymentQuery(w http.ResponseWriter, r *http.Request) {
	h.verifySession(w, r, r.URL.Query().Get("session_id"))
}

// verifySession asks Stripe for the session and records the answer in the ledger.
// A session already recorded as paid stays paid.
func (h *handlers) verifySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	log := logger.FromContext(r.Context())

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		log.Warn().Msg("stripe.verify.missing_session_id")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "session_id is required")
		return
	}
	log = log.With().Str("session_id", logger.TruncateID(sessionID)).Logger()

	st, err := h.stripe.GetSession(r.Context(), sessionID)
	if errors.Is(err, stripesvc.ErrSessionNotFound) {
		h.metrics.ObserveBackendVerification("not_found")
		log.Warn().Msg("stripe.verify.session_not_found")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeSessionNotFound, "Checkout session not found")
		return
	}
	if err != nil {
		h.metrics.ObserveBackendVerification("error")
		log.Error().Err(err).Msg("stripe.verify.lookup_failed")
		writeStripeError(w, err)
		return
	}

	record := verificationFromStatus(st, storage.SourceVerify)
	if h.store != nil {
		stored, err := h.store.RecordVerification(r.Context(), record)
		if err != nil {
			// Stripe's answer still stands; only the ledger write is lost.
			log.Error().Err(err).Msg("stripe.verify.ledger_write_failed")
		} else {
			record = stored
		}
	}

	result := "unpaid"
	if record.Paid {
		result = "paid"
	}
	h.metrics.ObserveBackendVerification(result)
	log.Info().Bool("paid", record.Paid).Str("status", record.Status).Msg("stripe.verify.result")

	responders.JSON(w, http.StatusOK, verificationResponse{
		Paid:        record.Paid,
		Status:      record.Status,
		SessionID:   record.SessionID,
		AmountTotal: record.AmountCents,
		Currency:    record.Currency,
		Credits:     record.Credits,
	})
}

// handleStripeWebhook records completed checkouts reported by Stripe.
func (h *handlers) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := httputil.ReadBody(r.Body)
	if err != nil {
		log.Error().Err(err).Msg("stripe.webhook.read_body_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "read body: "+err.Error())
		return
	}

	event, err := h.stripe.ParseWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, stripesvc.ErrWebhookSecret) {
		log.Error().Msg("stripe.webhook.secret_missing")
		apierrors.WriteError(w, apierrors.ErrCodeConfiguration, err, nil)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("stripe.webhook.invalid_signature")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid webhook signature")
		return
	}

	log.Info().Str("event_type", event.Type).Msg("stripe.webhook.received")

	if event.Completed() && h.store != nil {
		if _, err := h.store.RecordVerification(r.Context(), verificationFromStatus(event.Session, storage.SourceWebhook)); err != nil {
			log.Error().Err(err).Msg("stripe.webhook.ledger_write_failed")
			// Non-2xx makes Stripe redeliver the event.
			apierrors.WriteError(w, apierrors.ErrCodeDatabaseError, err, nil)
			return
		}
		h.metrics.ObserveBackendVerification("webhook")
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"received": true,
		"type":     event.Type,
	})
}

func verificationFromStatus(st stripesvc.SessionStatus, source storage.Source) storage.Verification {
	return storage.Verification{
		SessionID:     st.SessionID,
		Kind:          st.Kind,
		Paid:          st.Paid,
		Status:        st.Status,
		AmountCents:   st.AmountTotal,
		Currency:      st.Currency,
		Credits:       st.Credits,
		CustomerEmail: st.CustomerEmail,
		Source:        source,
	}
}

// returnPage is served as the Stripe success and cancel URL. It hands the
// result to the window that opened checkout and closes itself.
var returnPage = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 36rem; margin: 4rem auto; padding: 0 1.5rem; color: #1f2933; }
    h1 { color: {{.Color}}; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.Body}}</p>
  <script>
    (function () {
      var message = { type: {{.Type}}, sessionId: {{.SessionID}} };
      if (window.opener && !window.opener.closed) {
        window.opener.postMessage(message, {{.TargetOrigin}});
        window.close();
      }
    })();
  </script>
</body>
</html>`))

type returnPageData struct {
	Title        string
	Body         string
	Color        template.CSS
	Type         window.MessageType
	SessionID    string
	TargetOrigin string
}

func (h *handlers) paymentSuccessPage(w http.ResponseWriter, r *http.Request) {
	h.renderReturnPage(w, returnPageData{
		Title:     "Payment Complete",
		Body:      "Thanks! You can close this tab and return to the app.",
		Color:     "#0b7285",
		Type:      window.MessageSuccess,
		SessionID: r.URL.Query().Get("session_id"),
	})
}

func (h *handlers) paymentCancelledPage(w http.ResponseWriter, r *http.Request) {
	h.renderReturnPage(w, returnPageData{
		Title:     "Checkout Cancelled",
		Body:      "No payment was captured. Return to the app to start again.",
		Color:     "#c92a2a",
		Type:      window.MessageCancelled,
		SessionID: r.URL.Query().Get("session_id"),
	})
}

func (h *handlers) renderReturnPage(w http.ResponseWriter, data returnPageData) {
	// "/" restricts delivery to the page's own origin.
	data.TargetOrigin = firstNonEmpty(h.cfg.Checkout.Origin, "/")
	if err := responders.HTML(w, http.StatusOK, returnPage, data); err != nil {
		h.logger.Error().Err(err).Msg("stripe.return_page.render_failed")
	}
}
