package main

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/window"
	"github.com/CedrosPay/checkout/pkg/responders"
)

// completionListener receives the Stripe return-page redirect on a local
// address and turns it into completion messages for the reconciler.
type completionListener struct {
	origin   string
	messages chan window.Message
	server   *http.Server
	ln       net.Listener
}

var completionPage = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8" /><title>{{.}}</title></head>
<body style="font-family: system-ui, sans-serif; margin: 4rem auto; max-width: 32rem;">
  <h1>{{.}}</h1>
  <p>You can close this tab and return to the terminal.</p>
</body>
</html>`))

// listenCompletion binds addr. The listener's own origin is the only origin
// the reconciler trusts.
func listenCompletion(addr string, log zerolog.Logger) (*completionListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("checkout: listen for completion on %s: %w", addr, err)
	}

	c := &completionListener{
		origin:   "http://" + ln.Addr().String(),
		messages: make(chan window.Message, 4),
		ln:       ln,
	}

	router := chi.NewRouter()
	router.Use(logger.Middleware(log))
	router.Use(middleware.Recoverer)
	router.Get("/payment-success", c.handle(window.MessageSuccess, "Payment received"))
	router.Get("/payment-cancelled", c.handle(window.MessageCancelled, "Checkout cancelled"))

	c.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("completion.serve_failed")
		}
	}()
	return c, nil
}

func (c *completionListener) handle(typ window.MessageType, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := window.Message{
			Type:      typ,
			SessionID: r.URL.Query().Get("session_id"),
			Origin:    c.origin,
		}
		select {
		case c.messages <- msg:
		default:
			// Reconciliation only needs the first message.
			log := logger.FromContext(r.Context())
			log.Debug().Str("type", string(typ)).Msg("completion.message_dropped")
		}
		_ = responders.HTML(w, http.StatusOK, completionPage, title)
	}
}

// Messages is the stream handed to the reconciler.
func (c *completionListener) Messages() <-chan window.Message {
	return c.messages
}

// Origin is the scheme and host the listener serves on.
func (c *completionListener) Origin() string {
	return c.origin
}

func (c *completionListener) Close(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}
