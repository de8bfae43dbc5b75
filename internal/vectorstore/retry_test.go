package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errFlaky = errors.New("flaky")

func isFlaky(err error) bool { return errors.Is(err, errFlaky) }

func TestRetrier_RetriesTransient(t *testing.T) {
	r := newRetrier(RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}, isFlaky)

	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_PermanentErrorNotRetried(t *testing.T) {
	r := newRetrier(RetryConfig{MaxRetries: 3, Backoff: time.Millisecond}, isFlaky)
	permanent := errors.New("bad request")

	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetrier_GivesUp(t *testing.T) {
	r := newRetrier(RetryConfig{MaxRetries: 2, Backoff: time.Millisecond, CircuitLimit: 100}, isFlaky)

	calls := 0
	err := r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestRetrier_CircuitOpensAndHalfOpens(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newRetrier(RetryConfig{MaxRetries: 1, Backoff: time.Millisecond, CircuitLimit: 2, CircuitWindow: time.Minute}, isFlaky)
	r.now = func() time.Time { return now }

	err := r.do(context.Background(), "op", func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, errFlaky)

	calls := 0
	err = r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	now = now.Add(2 * time.Minute)
	err = r.do(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ContextCanceled(t *testing.T) {
	r := newRetrier(RetryConfig{MaxRetries: 5, Backoff: time.Hour, CircuitLimit: 100}, isFlaky)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.do(ctx, "op", func(context.Context) error { return errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientGRPC(t *testing.T) {
	assert.True(t, isTransientGRPC(status.Error(codes.Unavailable, "down")))
	assert.True(t, isTransientGRPC(status.Error(codes.ResourceExhausted, "busy")))
	assert.False(t, isTransientGRPC(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, isTransientGRPC(errors.New("plain")))
}
