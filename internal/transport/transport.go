// Package transport issues single endpoint attempts for the checkout fallback
// chains and classifies every failure into a small closed set of variants.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/httputil"
)

// Kind is how an endpoint is reached.
type Kind string

const (
	// HTTPPost posts the JSON payload to a serverless or API endpoint.
	HTTPPost Kind = config.TransportHTTPPost
	// RPCInvoke posts the JSON payload to a managed backend function with its anon key.
	RPCInvoke Kind = config.TransportRPCInvoke
	// HTTPGet sends the payload as query parameters.
	HTTPGet Kind = config.TransportHTTPGet
)

// Endpoint is one entry of a priority-ordered fallback chain.
type Endpoint struct {
	Name string
	Kind Kind
	URL  string
}

// EndpointsFromConfig converts resolved endpoint configuration.
func EndpointsFromConfig(in []config.EndpointConfig) []Endpoint {
	out := make([]Endpoint, 0, len(in))
	for _, ep := range in {
		name := ep.Name
		if name == "" {
			name = ep.URL
		}
		out = append(out, Endpoint{Name: name, Kind: Kind(ep.Transport), URL: ep.URL})
	}
	return out
}

// Request is the payload for one attempt. Body is JSON-encoded for POST kinds,
// Query is used for HTTPGet.
type Request struct {
	Body  any
	Query url.Values
	// IdempotencyKey is sent on POST kinds so a backend that already served
	// the same pass replays its session instead of minting another.
	IdempotencyKey string
}

// Doer performs a single endpoint attempt and returns the 2xx response body.
type Doer interface {
	Do(ctx context.Context, ep Endpoint, req Request) ([]byte, error)
}

// Client is the HTTP implementation of Doer.
type Client struct {
	http         *http.Client
	functionsKey string
	origin       string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithFunctionsKey sets the anonymous key sent to managed functions.
func WithFunctionsKey(key string) Option {
	return func(cl *Client) {
		cl.functionsKey = key
	}
}

// WithOrigin sets the Origin header, which serverless CORS checks expect.
func WithOrigin(origin string) Option {
	return func(cl *Client) {
		cl.origin = origin
	}
}

// NewClient creates a transport client. timeout bounds each attempt when the
// caller's context has no deadline of its own.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{http: httputil.NewClient(timeout)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do performs one attempt. Every failure is returned as *Error.
func (c *Client) Do(ctx context.Context, ep Endpoint, req Request) ([]byte, error) {
	if strings.TrimSpace(ep.URL) == "" {
		return nil, &Error{Kind: ErrMissingURL, Endpoint: ep.Name, Err: errors.New("endpoint has no url")}
	}

	httpReq, err := c.build(ctx, ep, req)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Endpoint: ep.Name, Err: err}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Endpoint: ep.Name, Err: err}
	}
	defer resp.Body.Close()

	body, err := httputil.ReadBody(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Endpoint: ep.Name, Status: resp.StatusCode, Err: err}
	}
	if !httputil.IsSuccess(resp.StatusCode) {
		return nil, &Error{Kind: ErrStatus, Endpoint: ep.Name, Status: resp.StatusCode, Detail: snippet(body)}
	}
	return body, nil
}

func (c *Client) build(ctx context.Context, ep Endpoint, req Request) (*http.Request, error) {
	if ep.Kind == HTTPGet {
		target, err := url.Parse(ep.URL)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		if len(req.Query) > 0 {
			q := target.Query()
			for k, vs := range req.Query {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			target.RawQuery = q.Encode()
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "application/json")
		c.setOrigin(httpReq)
		return httpReq, nil
	}

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	c.setOrigin(httpReq)
	if ep.Kind == RPCInvoke && c.functionsKey != "" {
		httpReq.Header.Set("apikey", c.functionsKey)
		httpReq.Header.Set("Authorization", "Bearer "+c.functionsKey)
	}
	return httpReq, nil
}

func (c *Client) setOrigin(r *http.Request) {
	if c.origin != "" {
		r.Header.Set("Origin", c.origin)
	}
}

// Decode unmarshals a successful body, classifying failures as decode errors.
func Decode(ep Endpoint, body []byte, dst any) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return &Error{Kind: ErrDecode, Endpoint: ep.Name, Err: err}
	}
	return nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
