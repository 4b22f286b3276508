package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
)

func TestClient_HTTPPost(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "https://app.example.com", r.Header.Get("Origin"))
		assert.Empty(t, r.Header.Get("apikey"), "plain posts never carry the functions key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"url":"https://pay/x","sessionId":"s1"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, WithOrigin("https://app.example.com"), WithFunctionsKey("anon"))
	body, err := c.Do(context.Background(), Endpoint{Name: "api", Kind: HTTPPost, URL: srv.URL}, Request{Body: map[string]any{"credits": 100}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://pay/x","sessionId":"s1"}`, string(body))
	assert.Equal(t, float64(100), got["credits"])
}

func TestClient_RPCInvokeSendsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, WithFunctionsKey("anon"))
	_, err := c.Do(context.Background(), Endpoint{Name: "fn", Kind: RPCInvoke, URL: srv.URL}, Request{Body: map[string]any{}})
	require.NoError(t, err)
}

func TestClient_IdempotencyKeyHeader(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	ep := Endpoint{Name: "api", Kind: HTTPPost, URL: srv.URL}
	_, err := c.Do(context.Background(), ep, Request{Body: map[string]any{}, IdempotencyKey: "pass-1"})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), ep, Request{Body: map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, []string{"pass-1", ""}, keys)
}

func TestClient_HTTPGetQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "cs_1", r.URL.Query().Get("session_id"))
		assert.Equal(t, "keep", r.URL.Query().Get("existing"))
		_, _ = w.Write([]byte(`{"paid":true}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	_, err := c.Do(context.Background(), Endpoint{Name: "verify", Kind: HTTPGet, URL: srv.URL + "?existing=keep"},
		Request{Query: url.Values{"session_id": {"cs_1"}}})
	require.NoError(t, err)
}

func TestClient_ErrorVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second)

	_, err := c.Do(context.Background(), Endpoint{Name: "bad", Kind: HTTPPost, URL: srv.URL}, Request{Body: map[string]any{}})
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrStatus, te.Kind)
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.Contains(t, te.Error(), "502")
	assert.Contains(t, te.Error(), "bad")

	_, err = c.Do(context.Background(), Endpoint{Name: "empty", Kind: HTTPPost}, Request{})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrMissingURL, te.Kind)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = c.Do(context.Background(), Endpoint{Name: "down", Kind: HTTPPost, URL: closed.URL}, Request{Body: map[string]any{}})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrNetwork, te.Kind)
}

func TestClient_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(time.Minute).Do(ctx, Endpoint{Name: "slow", Kind: HTTPPost, URL: srv.URL}, Request{Body: map[string]any{}})
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrNetwork, te.Kind)
	assert.True(t, te.Timeout())
}

func TestDecode(t *testing.T) {
	var out struct{ URL string }
	err := Decode(Endpoint{Name: "api"}, []byte("<html>"), &out)
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrDecode, te.Kind)
}

type countingDoer struct{ calls int }

func (d *countingDoer) Do(ctx context.Context, ep Endpoint, req Request) ([]byte, error) {
	d.calls++
	return nil, &Error{Kind: ErrStatus, Endpoint: ep.Name, Status: 500}
}

func TestGuard_OpenBreakerSkipsCall(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Endpoints.ConsecutiveFailures = 1
	cfg.Endpoints.Timeout = time.Hour
	inner := &countingDoer{}
	g := Guard(inner, circuitbreaker.NewManager(cfg))
	ep := Endpoint{Name: "netlify", Kind: HTTPPost, URL: "http://unused"}

	_, err := g.Do(context.Background(), ep, Request{})
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrStatus, te.Kind)

	_, err = g.Do(context.Background(), ep, Request{})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ErrBreakerOpen, te.Kind)
	assert.Equal(t, 1, inner.calls)
}

func TestEndpointsFromConfig(t *testing.T) {
	eps := EndpointsFromConfig([]config.EndpointConfig{
		{Name: "a", Transport: config.TransportHTTPPost, URL: "https://a"},
		{Transport: config.TransportRPCInvoke, URL: "https://b"},
	})
	require.Len(t, eps, 2)
	assert.Equal(t, HTTPPost, eps[0].Kind)
	assert.Equal(t, "https://b", eps[1].Name)
	assert.Equal(t, RPCInvoke, eps[1].Kind)
}
