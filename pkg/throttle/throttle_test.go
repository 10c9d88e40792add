package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait_SpacesCallsForOneTenant(t *testing.T) {
	pacer := New(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()

	for range 3 {
		require.NoError(t, pacer.Wait(ctx, "tenant-1"))
	}

	// First call is free, the next two wait one interval each.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWait_TenantsDoNotBlockEachOther(t *testing.T) {
	pacer := New(time.Second)
	ctx := context.Background()

	require.NoError(t, pacer.Wait(ctx, "tenant-1"))

	start := time.Now()
	require.NoError(t, pacer.Wait(ctx, "tenant-2"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWait_ZeroIntervalDisablesPacing(t *testing.T) {
	pacer := New(0)
	ctx := context.Background()

	start := time.Now()

	for range 100 {
		require.NoError(t, pacer.Wait(ctx, "tenant-1"))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWait_CancelledContextReturns(t *testing.T) {
	pacer := New(time.Minute)

	require.NoError(t, pacer.Wait(context.Background(), "tenant-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pacer.Wait(ctx, "tenant-1")
	require.ErrorIs(t, err, context.Canceled)
}
