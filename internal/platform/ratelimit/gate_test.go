package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalGate_SpacesCalls(t *testing.T) {
	gate := NewIntervalGate(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(ctx))
	}

	// first call is admitted immediately, the next two wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
	assert.Equal(t, 40*time.Millisecond, gate.Interval())
}

func TestIntervalGate_ZeroIntervalDisablesLimit(t *testing.T) {
	gate := NewIntervalGate(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, gate.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestIntervalGate_CancelledContext(t *testing.T) {
	gate := NewIntervalGate(time.Hour)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait aborted")
}

func TestNoop(t *testing.T) {
	var gate Gate = Noop{}
	assert.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, gate.Wait(ctx), context.Canceled)
}
