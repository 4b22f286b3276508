package errors

import (
	stderrors "errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusOnly struct {
	Status   int    `json:"status"`
	Endpoint string `json:"endpoint"`
}

// blankErr is an error whose text is empty but whose fields still describe it.
type blankErr struct {
	Status   int    `json:"status,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (blankErr) Error() string { return "  " }

type panicky struct{}

func (panicky) MarshalJSON() ([]byte, error) { panic("boom") }

type nilErr struct{ msg *string }

func (e *nilErr) Error() string { return *e.msg }

func TestDescribe_PriorityOrder(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"native error", stderrors.New("connection refused"), "connection refused"},
		{"wrapped error", fmt.Errorf("checkout: endpoint api: %w", stderrors.New("EOF")), "checkout: endpoint api: EOF"},
		{"string as-is", "card declined", "card declined"},
		{"message field first", map[string]any{"error": "second", "message": "first"}, "first"},
		{"error field", map[string]any{"error": "bad gateway"}, "bad gateway"},
		{"nested error object", map[string]any{"error": map[string]any{"message": "No such price"}}, "No such price"},
		{"details field", map[string]any{"details": "quota"}, "quota"},
		{"description field", map[string]any{"description": "desc"}, "desc"},
		{"msg field", map[string]any{"msg": "short"}, "short"},
		{"statusText field", map[string]any{"statusText": "Bad Request"}, "Bad Request"},
		{"synthesized", map[string]any{"status": 500, "endpoint": "/api/x", "type": "http"}, "Status: 500, Endpoint: /api/x, Type: http"},
		{"json fallback", map[string]any{"foo": "bar"}, `{"foo":"bar"}`},
		{"empty object", map[string]any{}, UnknownError},
		{"empty string", "   ", UnknownError},
		{"nil", nil, UnknownError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Describe(tt.in))
		})
	}
}

func TestDescribe_StatusAndEndpointWithoutMessage(t *testing.T) {
	got := Describe(map[string]any{"status": 402, "endpoint": "/x"})
	assert.Contains(t, got, "402")
	assert.Contains(t, got, "/x")

	got = Describe(statusOnly{Status: 402, Endpoint: "/x"})
	assert.Contains(t, got, "402")
	assert.Contains(t, got, "/x")
}

func TestDescribe_BlankErrorFallsThrough(t *testing.T) {
	assert.Equal(t, "card expired", Describe(blankErr{Message: "card expired"}))
	assert.Equal(t, "Status: 502, Endpoint: /api/pay", Describe(blankErr{Status: 502, Endpoint: "/api/pay"}))
	assert.Equal(t, UnknownError, Describe(blankErr{}))
	assert.Equal(t, UnknownError, Describe(stderrors.New("")))
}

func TestDescribe_NeverPanics(t *testing.T) {
	circular := map[string]any{"name": ""}
	circular["self"] = circular

	long := strings.Repeat("x", 10000)

	var typedNil *nilErr

	inputs := []any{
		nil,
		circular,
		long,
		map[string]any{"blob": long},
		panicky{},
		typedNil,
		[]int{},
		make(chan int),
	}

	for i, in := range inputs {
		require.NotPanics(t, func() {
			out := Describe(in)
			assert.NotEmpty(t, out, "input %d", i)
		})
	}

	assert.Equal(t, long, Describe(long))
	assert.Equal(t, UnknownError, Describe(map[string]any{"blob": long}), "oversized json is rejected")
	assert.Equal(t, UnknownError, Describe(circular))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrCodeTransport, map[string]any{"status": 503, "endpoint": "/api/create-payment"}, nil)

	require.Equal(t, 502, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"transport_error"`)
	assert.Contains(t, rec.Body.String(), "Status: 503, Endpoint: /api/create-payment")
	assert.Contains(t, rec.Body.String(), `"retryable":true`)
}
