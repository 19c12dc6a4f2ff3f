/*
scheduler.go - Background maintenance scheduler

PURPOSE:
  Periodically runs the two maintenance sweeps that keep the schedule
  healthy without operator involvement:
  - Materializes every active recurring rule out to the rolling horizon
  - Expires pending bookings whose window start has passed unapproved

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each sweep is idempotent, so overlapping with a manual admin trigger
    is harmless (per-rule runs are additionally guarded in the
    materializer itself)
  - Per-rule failures are logged and never abort the batch

CONFIGURATION:
  - CheckInterval: How often to run (default: 15 minutes)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewMaintenanceScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Manual admin endpoints for the same sweeps
  - recurrence/materializer.go: MaterializeDue
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// MaintenanceScheduler runs the periodic materialization and expiry sweeps.
type MaintenanceScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewMaintenanceScheduler creates a new scheduler.
func NewMaintenanceScheduler(handler *Handler) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		Handler:       handler,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ms *MaintenanceScheduler) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ms.ticker = time.NewTicker(ms.CheckInterval)
	ms.wg.Add(1)

	go ms.run()

	log.Printf("[Scheduler] Started with check interval: %v", ms.CheckInterval)
}

// Stop stops the scheduler.
func (ms *MaintenanceScheduler) Stop() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.ticker != nil {
		ms.ticker.Stop()
		close(ms.stop)
		ms.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ms *MaintenanceScheduler) run() {
	defer ms.wg.Done()

	// Run immediately on start
	ms.sweep()

	for {
		select {
		case <-ms.ticker.C:
			ms.sweep()
		case <-ms.stop:
			return
		}
	}
}

func (ms *MaintenanceScheduler) sweep() {
	ctx := context.Background()

	results, failures := ms.Handler.Rules.MaterializeDue(ctx)
	generated, skipped := 0, 0
	for _, res := range results {
		generated += len(res.Generated)
		skipped += len(res.Skipped)
	}
	for id, err := range failures {
		log.Printf("[Scheduler] Rule %s materialization failed: %v", id, err)
	}
	if generated > 0 || skipped > 0 {
		log.Printf("[Scheduler] Materialized %d occurrence(s), %d skipped on conflict", generated, skipped)
	}

	expired, err := ms.Handler.Bookings.ExpireOverdue(ctx)
	if err != nil {
		log.Printf("[Scheduler] Expiry sweep failed: %v", err)
	} else if len(expired) > 0 {
		log.Printf("[Scheduler] Expired %d unapproved booking(s)", len(expired))
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ms *MaintenanceScheduler) RunNow() {
	ms.sweep()
}
