package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodyBytes bounds how much of an endpoint response body is read.
const MaxBodyBytes = 1 << 20

// NewClient creates a new HTTP client with the given timeout and connection reuse
// tuned for repeated calls to the same few checkout endpoints.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// IsSuccess reports whether status is in the 2xx range.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// ReadBody reads at most MaxBodyBytes from r.
func ReadBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("httputil: response body exceeds %d bytes", MaxBodyBytes)
	}
	return body, nil
}

// DecodeJSON decodes a bounded request or response body into dst.
func DecodeJSON(r io.Reader, dst any) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("httputil: empty body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("httputil: decode json: %w", err)
	}
	return nil
}
