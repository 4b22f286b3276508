package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/pricing"
	"github.com/CedrosPay/checkout/internal/transport"
)

type reply struct {
	body  string
	err   error
	block bool // wait for the attempt context to expire
}

// scriptedDoer answers each endpoint by name and records call order.
type scriptedDoer struct {
	mu       sync.Mutex
	replies  map[string]reply
	calls    []string
	payloads []Payload
	keys     []string
}

func (d *scriptedDoer) Do(ctx context.Context, ep transport.Endpoint, req transport.Request) ([]byte, error) {
	d.mu.Lock()
	d.calls = append(d.calls, ep.Name)
	d.keys = append(d.keys, req.IdempotencyKey)
	if p, ok := req.Body.(Payload); ok {
		d.payloads = append(d.payloads, p)
	}
	r := d.replies[ep.Name]
	d.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, &transport.Error{Kind: transport.ErrNetwork, Endpoint: ep.Name, Err: ctx.Err()}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte(r.body), nil
}

func chain(names ...string) []transport.Endpoint {
	eps := make([]transport.Endpoint, len(names))
	for i, n := range names {
		eps[i] = transport.Endpoint{Name: n, Kind: transport.HTTPPost, URL: "https://app.example.com/" + n}
	}
	return eps
}

var testLinks = config.FallbackLinksConfig{
	Credits: "https://buy.stripe.com/credits",
	Monthly: "https://buy.stripe.com/monthly",
	Yearly:  "https://buy.stripe.com/yearly",
}

func statusErr(name string, code int) error {
	return &transport.Error{Kind: transport.ErrStatus, Endpoint: name, Status: code}
}

func TestCreateSession_FirstTwoTimeOutThirdWins(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{
		"netlify": {block: true},
		"api":     {block: true},
		"fn":      {body: `{"url":"https://pay/x","sessionId":"s1"}`},
	}}
	o, err := NewOrchestrator(doer, pricing.NewResolver(),
		WithSessionEndpoints(chain("netlify", "api", "fn")),
		WithFallbackLinks(testLinks),
		WithAttemptTimeout(10*time.Millisecond),
	)
	require.NoError(t, err)

	s, err := o.CreateSession(context.Background(), CreditsIntent(100, Customer{Email: "a@b.com", IsGuest: true}))
	require.NoError(t, err)

	assert.Equal(t, "https://pay/x", s.URL)
	assert.Equal(t, "s1", s.SessionID)
	assert.Equal(t, MethodDynamic, s.Method)
	require.NotNil(t, s.Quote)
	assert.Equal(t, "140.00", s.Quote.AmountString())
	assert.Equal(t, []string{"netlify", "api", "fn"}, doer.calls)

	require.Len(t, s.Attempts, 3)
	assert.True(t, s.Attempts[0].Err.Timeout())
	assert.True(t, s.Attempts[2].Succeeded())

	// The same payload goes to every endpoint.
	require.Len(t, doer.payloads, 3)
	for _, p := range doer.payloads {
		assert.Equal(t, 140.0, p.Amount)
		assert.Equal(t, 100, p.Credits)
		assert.Equal(t, "a@b.com", p.GuestEmail)
		assert.True(t, p.IsGuest)
		assert.Equal(t, "stripe", p.PaymentMethod)
	}
}

func TestCreateSession_OneIdempotencyKeyPerPass(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{
		"netlify": {err: statusErr("netlify", 502)},
		"api":     {body: `{"url":"https://pay/x","sessionId":"s1"}`},
	}}
	o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain("netlify", "api")), WithFallbackLinks(testLinks))
	require.NoError(t, err)

	_, err = o.CreateSession(context.Background(), CreditsIntent(10, Customer{}))
	require.NoError(t, err)
	_, err = o.CreateSession(context.Background(), CreditsIntent(10, Customer{}))
	require.NoError(t, err)

	require.Len(t, doer.keys, 4)
	assert.NotEmpty(t, doer.keys[0])
	assert.Equal(t, doer.keys[0], doer.keys[1], "retries within a pass share a key")
	assert.NotEqual(t, doer.keys[1], doer.keys[2], "a new pass gets a new key")
	assert.Equal(t, doer.keys[2], doer.keys[3])
}

func TestCreateSession_StopsAtFirstSuccess(t *testing.T) {
	names := []string{"e1", "e2", "e3", "e4", "e5"}
	for m := 0; m < len(names); m++ {
		replies := map[string]reply{}
		for i, n := range names {
			switch {
			case i < m:
				replies[n] = reply{err: statusErr(n, 500)}
			case i == m:
				replies[n] = reply{body: `{"url":"https://pay/` + n + `","sessionId":"cs_` + n + `"}`}
			default:
				replies[n] = reply{body: `{"url":"https://pay/never"}`}
			}
		}
		doer := &scriptedDoer{replies: replies}
		o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain(names...)), WithFallbackLinks(testLinks))
		require.NoError(t, err)

		s, err := o.CreateSession(context.Background(), CreditsIntent(37, Customer{}))
		require.NoError(t, err)
		assert.Equal(t, names[:m+1], doer.calls, "first %d fail", m)
		assert.Equal(t, "https://pay/"+names[m], s.URL)
		assert.Equal(t, "51.80", s.Quote.AmountString())
	}
}

func TestCreateSession_StructurallyInvalidResponsesFallThrough(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{
		"no-url": {body: `{"sessionId":"s1"}`},
		"blank":  {body: `{"url":"  "}`},
		"html":   {body: `<html>oops</html>`},
		"fine":   {body: `{"url":"https://pay/ok"}`},
	}}
	o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain("no-url", "blank", "html", "fine")), WithFallbackLinks(testLinks))
	require.NoError(t, err)

	s, err := o.CreateSession(context.Background(), CreditsIntent(50, Customer{}))
	require.NoError(t, err)
	assert.Equal(t, "https://pay/ok", s.URL)
	assert.Empty(t, s.SessionID)
	assert.Equal(t, MethodDynamic, s.Method)
	assert.Equal(t, transport.ErrMissingURL, s.Attempts[0].Err.Kind)
	assert.Equal(t, transport.ErrMissingURL, s.Attempts[1].Err.Kind)
	assert.Equal(t, transport.ErrDecode, s.Attempts[2].Err.Kind)
}

func TestCreateSession_AllFailUsesStaticLink(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{
		"netlify": {err: statusErr("netlify", 404)},
		"api":     {err: errors.New("dial tcp: connection refused")},
		"fn":      {err: statusErr("fn", 500)},
	}}
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain("netlify", "api", "fn")), WithFallbackLinks(testLinks), WithMetrics(m))
	require.NoError(t, err)

	s, err := o.CreateSession(context.Background(), CreditsIntent(37, Customer{Email: "a@b.com"}))
	require.NoError(t, err)

	assert.Equal(t, MethodStaticFallback, s.Method)
	assert.Empty(t, s.SessionID)
	assert.False(t, s.Verifiable())
	assert.Len(t, s.Attempts, 3)
	assert.Equal(t, transport.ErrNetwork, s.Attempts[1].Err.Kind)

	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	assert.Equal(t, "buy.stripe.com", u.Host)
	assert.Equal(t, "37", u.Query().Get("quantity"))
	assert.Equal(t, "a@b.com", u.Query().Get("prefilled_email"))

	assert.Equal(t, float64(1), promtest.ToFloat64(m.SessionsTotal.WithLabelValues("credits", "static_fallback")))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.EndpointAttemptsTotal.WithLabelValues("api", "http_post", "network")))
}

func TestCreateSession_SubscriptionUsesParallelChain(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{
		"sub-netlify": {err: statusErr("sub-netlify", 502)},
		"sub-api":     {err: statusErr("sub-api", 502)},
	}}
	o, err := NewOrchestrator(doer, nil,
		WithSessionEndpoints(chain("netlify")),
		WithSubscriptionEndpoints(chain("sub-netlify", "sub-api")),
		WithFallbackLinks(testLinks),
	)
	require.NoError(t, err)

	intent, err := SubscriptionIntent("annual", Customer{Email: "a@b.com"})
	require.NoError(t, err)

	s, err := o.CreateSession(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-netlify", "sub-api"}, doer.calls)
	assert.Equal(t, "yearly", doer.payloads[0].Plan)
	assert.Zero(t, doer.payloads[0].Amount)
	assert.Contains(t, s.URL, "https://buy.stripe.com/yearly?")
	assert.NotContains(t, s.URL, "quantity=")
}

func TestCreateSession_InvalidIntentFailsFast(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{}}
	o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain("netlify")), WithFallbackLinks(testLinks))
	require.NoError(t, err)

	_, err = o.CreateSession(context.Background(), CreditsIntent(0, Customer{}))
	assert.ErrorIs(t, err, ErrInvalidIntent)
	assert.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = o.CreateSession(context.Background(), Intent{Kind: KindSubscription, Plan: "weekly"})
	assert.ErrorIs(t, err, ErrInvalidPlan)

	_, err = o.CreateSession(context.Background(), Intent{Kind: "gift"})
	assert.ErrorIs(t, err, ErrInvalidIntent)

	assert.Empty(t, doer.calls, "no network call for invalid intents")
}

func TestCreateSession_NoFallbackTemplate(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{"netlify": {err: statusErr("netlify", 500)}}}
	o, err := NewOrchestrator(doer, nil,
		WithSessionEndpoints(chain("netlify")),
		WithFallbackLinks(config.FallbackLinksConfig{Monthly: "https://buy.stripe.com/monthly"}),
	)
	require.NoError(t, err)

	_, err = o.CreateSession(context.Background(), CreditsIntent(10, Customer{}))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCreateSession_CancelledContext(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{}}
	o, err := NewOrchestrator(doer, nil, WithSessionEndpoints(chain("netlify")), WithFallbackLinks(testLinks))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.CreateSession(ctx, CreditsIntent(10, Customer{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, doer.calls)
}

func TestNewOrchestrator_NothingConfigured(t *testing.T) {
	_, err := NewOrchestrator(&scriptedDoer{}, nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestQuickSubscribe(t *testing.T) {
	doer := &scriptedDoer{replies: map[string]reply{}}
	o, err := NewOrchestrator(doer, nil, WithSubscriptionEndpoints(chain("sub")), WithFallbackLinks(testLinks))
	require.NoError(t, err)

	s, err := o.QuickSubscribe(context.Background(), "monthly", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "https://buy.stripe.com/monthly?prefilled_email=a%40b.com", s.URL)
	assert.Equal(t, MethodStaticFallback, s.Method)
	assert.Empty(t, doer.calls)

	_, err = o.QuickSubscribe(context.Background(), "weekly", "")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestPayloadWireShape(t *testing.T) {
	raw, err := json.Marshal(Payload{Amount: 51.8, Credits: 37, ProductName: "Backlink Credits", PaymentMethod: "stripe"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":51.8,"credits":37,"productName":"Backlink Credits","isGuest":false,"paymentMethod":"stripe"}`, string(raw))
}
