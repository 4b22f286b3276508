package main

import (
	"bufio"
	"context"
	"io"
	"sync/atomic"

	"github.com/CedrosPay/checkout/internal/window"
)

// browserTab stands in for a checkout window opened in the system browser.
// A terminal cannot see the tab, so the user pressing Enter counts as closing it.
type browserTab struct {
	closed atomic.Bool
}

func (t *browserTab) IsClosed() bool { return t.closed.Load() }

func (t *browserTab) Close() error {
	t.closed.Store(true)
	return nil
}

// browserOpener opens checkout URLs with openURL and watches stdin for the
// user finishing by hand.
func browserOpener(openURL func(string) error, stdin io.Reader) window.Opener {
	return window.OpenerFunc(func(ctx context.Context, url, name string) (window.Handle, error) {
		if err := openURL(url); err != nil {
			return nil, window.ErrPopupBlocked
		}
		tab := &browserTab{}
		if stdin != nil {
			go func() {
				if bufio.NewScanner(stdin).Scan() {
					tab.Close()
				}
			}()
		}
		return tab, nil
	})
}
