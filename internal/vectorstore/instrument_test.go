package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/config"
)

type deadlineSpy struct {
	Backend
	sawDeadline bool
}

func (d *deadlineSpy) Stats(ctx context.Context, _ string) (Stats, error) {
	_, d.sawDeadline = ctx.Deadline()
	return Stats{}, nil
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	inner := newTestChromem(t)
	b := Instrument(inner, time.Second)

	assert.Same(t, b, Instrument(b, time.Second))
	assert.Equal(t, ProviderChromem, b.Name())
	assert.Same(t, Backend(inner), b.(*instrumented).Unwrap())

	before := testutil.ToFloat64(backendCalls.WithLabelValues(ProviderChromem, "create_partition", "error"))
	require.NoError(t, b.CreatePartition(ctx, "isl_global", testDim, false))
	assert.Error(t, b.CreatePartition(ctx, "isl_global", testDim, false))
	after := testutil.ToFloat64(backendCalls.WithLabelValues(ProviderChromem, "create_partition", "error"))
	assert.Equal(t, before+1, after)
}

func TestInstrument_AppliesTimeout(t *testing.T) {
	spy := &deadlineSpy{Backend: newTestChromem(t)}

	_, err := Instrument(spy, time.Second).Stats(context.Background(), "isl_global")
	require.NoError(t, err)
	assert.True(t, spy.sawDeadline)

	spy.sawDeadline = false
	_, err = Instrument(spy, 0).Stats(context.Background(), "isl_global")
	require.NoError(t, err)
	assert.False(t, spy.sawDeadline)
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, config.VectorStoreConfig{
		Provider: ProviderChromem,
		Timeout:  time.Second,
		Chromem:  config.ChromemConfig{Path: t.TempDir()},
	}, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, ProviderChromem, b.Name())

	_, err = NewBackend(ctx, config.VectorStoreConfig{Provider: "pinecone"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
