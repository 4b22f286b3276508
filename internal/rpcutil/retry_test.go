package rpcutil

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func TestWithRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	got, err := WithRetry(context.Background(), "get_session", fastPolicy(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 service unavailable")
		}
		return "cs_1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", got)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_PermanentErrorStops(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), "get_session", fastPolicy(), func() (int, error) {
		calls++
		return 0, errors.New("no such checkout session")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), "ping", fastPolicy(), func() (int, error) {
		calls++
		return 0, fmt.Errorf("dial: %w", syscall.ECONNREFUSED)
	})
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, 4, calls)
}

func TestWithRetry_CustomClassifier(t *testing.T) {
	sentinel := errors.New("retry me")
	calls := 0
	p := fastPolicy()
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	_, err := WithRetry(context.Background(), "op", p, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, sentinel
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := WithRetry(ctx, "op", p, func() (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{errors.New("pq: the database system is starting up"), true},
		{errors.New("429 Too Many Requests"), true},
		{fmt.Errorf("wrapped: %w", syscall.ECONNRESET), true},
		{errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}
