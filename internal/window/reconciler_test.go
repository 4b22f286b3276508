package window_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/window"
	"github.com/CedrosPay/checkout/internal/window/windowtest"
)

const origin = "https://app.example.com"

type harness struct {
	clock    *windowtest.Clock
	opener   *windowtest.Opener
	handle   *windowtest.Handle
	win      *window.Window
	messages chan window.Message
	done     chan result
	cancel   context.CancelFunc
}

type result struct {
	out window.Outcome
	err error
}

func start(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    windowtest.NewClock(),
		opener:   &windowtest.Opener{},
		messages: make(chan window.Message, 4),
		done:     make(chan result, 1),
	}

	mgr := window.NewManager(h.opener, h.clock)
	w, err := mgr.Open(context.Background(), "https://pay/x")
	require.NoError(t, err)
	h.win = w
	h.handle = h.opener.Last()

	r := window.NewReconciler(origin, window.WithClock(h.clock))
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)

	go func() {
		out, err := r.Await(ctx, w, h.messages)
		h.done <- result{out, err}
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.clock.WaitForWatchers(waitCtx, 2))
	return h
}

func (h *harness) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-h.done:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not settle")
		return result{}
	}
}

func (h *harness) assertPending(t *testing.T) {
	t.Helper()
	select {
	case r := <-h.done:
		t.Fatalf("reconciler settled early with %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAwait_MessageBeforeClose(t *testing.T) {
	h := start(t)

	h.messages <- window.Message{Type: window.MessageSuccess, SessionID: "cs_1", Origin: origin}
	r := h.wait(t)
	require.NoError(t, r.err)
	assert.Equal(t, window.SignalMessage, r.out.Signal)
	assert.Equal(t, "cs_1", r.out.SessionID)
	assert.True(t, r.out.NeedsVerification())

	// The reconciler closed the window and stopped observing it.
	assert.Equal(t, 1, h.handle.CloseCalls())
	assert.True(t, h.clock.Tickers()[0].Stopped())
	assert.True(t, h.clock.Timers()[0].Stopped())

	// A later close or duplicate message produces nothing.
	h.handle.UserClose()
	h.clock.Tick()
	h.messages <- window.Message{Type: window.MessageSuccess, SessionID: "cs_1", Origin: origin}
	h.assertPending(t)
}

func TestAwait_ClosedWithoutMessage(t *testing.T) {
	h := start(t)

	h.clock.Tick()
	h.assertPending(t)

	h.handle.UserClose()
	h.clock.Tick()

	r := h.wait(t)
	require.NoError(t, r.err)
	assert.Equal(t, window.SignalClosed, r.out.Signal)
	assert.Empty(t, r.out.SessionID)
	assert.True(t, r.out.NeedsVerification())
	assert.Zero(t, h.handle.CloseCalls(), "user-closed window is not closed again")
}

func TestAwait_CancelMessageClosesWindow(t *testing.T) {
	h := start(t)

	h.messages <- window.Message{Type: window.MessageCancelled, Origin: origin + "/"}
	r := h.wait(t)
	require.NoError(t, r.err)
	assert.Equal(t, window.SignalCancelled, r.out.Signal)
	assert.False(t, r.out.NeedsVerification())
	assert.Equal(t, 1, h.handle.CloseCalls())
}

func TestAwait_IgnoresForeignAndUnknownMessages(t *testing.T) {
	h := start(t)

	h.messages <- window.Message{Type: window.MessageSuccess, SessionID: "cs_evil", Origin: "https://evil.example"}
	h.messages <- window.Message{Type: "stripe-payment-maybe", SessionID: "cs_1", Origin: origin}
	h.assertPending(t)
	assert.False(t, h.handle.IsClosed())

	h.messages <- window.Message{Type: window.MessageSuccess, SessionID: "cs_ok", Origin: origin}
	r := h.wait(t)
	assert.Equal(t, "cs_ok", r.out.SessionID)
}

func TestAwait_LifetimeCapAbandons(t *testing.T) {
	h := start(t)

	h.clock.Advance(29 * time.Minute)
	h.assertPending(t)

	h.clock.Advance(time.Minute)
	r := h.wait(t)
	require.NoError(t, r.err)
	assert.Equal(t, window.SignalAbandoned, r.out.Signal)
	assert.False(t, r.out.NeedsVerification())
	assert.True(t, h.handle.IsClosed())
	assert.Equal(t, 1, h.handle.CloseCalls())
}

func TestAwait_ClosedMessageSourceKeepsPolling(t *testing.T) {
	h := start(t)

	close(h.messages)
	h.assertPending(t)

	h.handle.UserClose()
	h.clock.Tick()
	r := h.wait(t)
	assert.Equal(t, window.SignalClosed, r.out.Signal)
}

func TestAwait_ContextCancelled(t *testing.T) {
	h := start(t)

	h.cancel()
	r := h.wait(t)
	assert.True(t, errors.Is(r.err, context.Canceled))
	assert.True(t, h.handle.IsClosed())
}

func TestManager_OpenUniqueNames(t *testing.T) {
	opener := &windowtest.Opener{}
	mgr := window.NewManager(opener, nil)

	w1, err := mgr.Open(context.Background(), "https://pay/1")
	require.NoError(t, err)
	w2, err := mgr.Open(context.Background(), "https://pay/2")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(w1.Name, window.NamePrefix))
	assert.NotEqual(t, w1.Name, w2.Name)
	assert.Equal(t, []string{"https://pay/1", "https://pay/2"}, opener.URLs)
}

func TestManager_PopupBlocked(t *testing.T) {
	mgr := window.NewManager(&windowtest.Opener{Blocked: true}, nil)
	w, err := mgr.Open(context.Background(), "https://pay/1")
	assert.Nil(t, w)
	assert.ErrorIs(t, err, window.ErrPopupBlocked)

	failing := window.OpenerFunc(func(ctx context.Context, url, name string) (window.Handle, error) {
		return nil, errors.New("no display")
	})
	_, err = window.NewManager(failing, nil).Open(context.Background(), "https://pay/1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, window.ErrPopupBlocked)
}

func TestManager_LogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), zerolog.New(&buf))

	_, err := window.NewManager(&windowtest.Opener{}, nil).Open(ctx, "https://pay/1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "window.opened")

	_, err = window.NewManager(&windowtest.Opener{Blocked: true}, nil).Open(ctx, "https://pay/2")
	assert.ErrorIs(t, err, window.ErrPopupBlocked)
	assert.Contains(t, buf.String(), "window.popup_blocked")
}

func TestCapabilities(t *testing.T) {
	assert.False(t, window.Capabilities{}.PreferRedirect())
	assert.True(t, window.Capabilities{IsMobile: true}.PreferRedirect())
	assert.True(t, window.Capabilities{IsIOSSafari: true}.PreferRedirect())
}
