package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errUpstream = errors.New("upstream down")

func failing() (interface{}, error) { return nil, errUpstream }

func TestManager_DisabledPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	for i := 0; i < 10; i++ {
		if _, err := m.Execute("api", failing); !errors.Is(err, errUpstream) {
			t.Fatalf("expected upstream error, got %v", err)
		}
	}
	if got := m.State("api"); got != "disabled" {
		t.Errorf("expected disabled, got %s", got)
	}
}

func TestManager_NilPassesThrough(t *testing.T) {
	var m *Manager
	v, err := m.Execute("api", func() (interface{}, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("expected pass-through, got %v %v", v, err)
	}
}

func TestManager_TripsPerEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints.ConsecutiveFailures = 2
	cfg.Endpoints.Timeout = time.Hour
	m := NewManager(cfg)

	for i := 0; i < 2; i++ {
		_, _ = m.Execute("netlify", failing)
	}

	_, err := m.Execute("netlify", func() (interface{}, error) {
		t.Fatal("open breaker must not call through")
		return nil, nil
	})
	if !IsOpen(err) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	if got := m.State("netlify"); got != "open" {
		t.Errorf("expected open, got %s", got)
	}

	// A different endpoint is unaffected.
	v, err := m.Execute("api", func() (interface{}, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("expected healthy endpoint to pass, got %v %v", v, err)
	}
	if c := m.Counts("api"); c.TotalSuccesses != 1 {
		t.Errorf("expected one success recorded, got %+v", c)
	}
}

func TestManager_StateNotConfigured(t *testing.T) {
	m := NewManager(DefaultConfig())
	if got := m.State("never-used"); got != "not_configured" {
		t.Errorf("expected not_configured, got %s", got)
	}
}

func TestIsOpen(t *testing.T) {
	if IsOpen(errUpstream) {
		t.Error("plain errors are not breaker errors")
	}
}
