/*
locks.go - Per-vehicle critical sections

PURPOSE:
  All admission, preemption, and index maintenance for a given vehicle
  executes under mutual exclusion with respect to other operations on the
  SAME vehicle. Different vehicles proceed fully in parallel; there is no
  global lock.

BOUNDED WAIT:
  Acquisition waits at most the configured duration, then fails with
  ErrLockTimeout. A long queue on a hot vehicle is backpressure the caller
  should see, not something the engine absorbs.
*/
package booking

import (
	"context"
	"sync"
	"time"
)

// vehicleLocks is a registry of one-slot semaphores keyed by vehicle.
type vehicleLocks struct {
	mu    sync.Mutex
	slots map[VehicleID]chan struct{}
}

func newVehicleLocks() *vehicleLocks {
	return &vehicleLocks{slots: make(map[VehicleID]chan struct{})}
}

func (vl *vehicleLocks) slot(vehicleID VehicleID) chan struct{} {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	s, ok := vl.slots[vehicleID]
	if !ok {
		s = make(chan struct{}, 1)
		vl.slots[vehicleID] = s
	}
	return s
}

// Acquire takes the vehicle's critical section, waiting at most wait.
// Returns ErrLockTimeout when the wait elapses and the context error when
// the caller gives up first.
func (vl *vehicleLocks) Acquire(ctx context.Context, vehicleID VehicleID, wait time.Duration) error {
	s := vl.slot(vehicleID)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the vehicle's critical section.
func (vl *vehicleLocks) Release(vehicleID VehicleID) {
	select {
	case <-vl.slot(vehicleID):
	default:
		// Releasing an unheld lock is a programming error; make it loud in
		// tests without deadlocking production.
		panic("booking: release of unheld vehicle lock")
	}
}
