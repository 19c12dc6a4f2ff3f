package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVehicleLocks_BoundedWaitTimesOut(t *testing.T) {
	vl := newVehicleLocks()
	require.NoError(t, vl.Acquire(context.Background(), "veh-1", time.Second))

	// A second acquisition on the same vehicle hits the bounded wait
	err := vl.Acquire(context.Background(), "veh-1", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// Release hands the slot to the next caller
	vl.Release("veh-1")
	require.NoError(t, vl.Acquire(context.Background(), "veh-1", 10*time.Millisecond))
	vl.Release("veh-1")
}

func TestVehicleLocks_VehiclesAreIndependent(t *testing.T) {
	vl := newVehicleLocks()
	require.NoError(t, vl.Acquire(context.Background(), "veh-1", time.Second))
	require.NoError(t, vl.Acquire(context.Background(), "veh-2", 10*time.Millisecond))
	vl.Release("veh-1")
	vl.Release("veh-2")
}

func TestVehicleLocks_ContextCancellationWins(t *testing.T) {
	vl := newVehicleLocks()
	require.NoError(t, vl.Acquire(context.Background(), "veh-1", time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := vl.Acquire(ctx, "veh-1", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	vl.Release("veh-1")
}

func TestVehicleLocks_UnheldReleasePanics(t *testing.T) {
	vl := newVehicleLocks()
	assert.Panics(t, func() { vl.Release("veh-1") })
}
