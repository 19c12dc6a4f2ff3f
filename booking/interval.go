/*
interval.go - Per-vehicle occupancy index

PURPOSE:
  Keeps, for each vehicle, the sorted set of occupied time windows (bookings
  in a slot-holding status) so conflict detection is a range scan instead of
  a full table scan.

INDEX CONTRACT:
  - The index is a projection of Booking, not a separate source of truth.
    It is updated inside the same per-vehicle critical section as the status
    change it reflects, and can be rebuilt from the store at startup.
  - Entries are ordered by StartAt; insertion uses binary search.
  - An unknown vehicle is an empty index, not an error: a vehicle with no
    bookings simply has no conflicts.

SEE ALSO:
  - conflict.go:  Read-only overlap queries on top of this index
  - service.go:   Index rebuild on startup, critical-section ownership
*/
package booking

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// IndexEntry is one occupied window: (BookingID, [StartAt, EndAt), score).
// The score is carried so preemption can order holders without a store read.
type IndexEntry struct {
	BookingID BookingID
	Window    Window
	Score     decimal.Decimal
}

// IntervalIndex holds per-vehicle occupancy, ordered by window start.
// Safe for concurrent use; writers are expected to already hold the
// per-vehicle critical section (see locks.go), the internal mutex only
// protects the map structure itself.
type IntervalIndex struct {
	mu        sync.RWMutex
	byVehicle map[VehicleID][]IndexEntry
}

func NewIntervalIndex() *IntervalIndex {
	return &IntervalIndex{byVehicle: make(map[VehicleID][]IndexEntry)}
}

// Insert adds an entry for a slot-holding booking.
// Binary search for the insertion point keeps the slice ordered by StartAt.
func (ix *IntervalIndex) Insert(vehicleID VehicleID, entry IndexEntry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := ix.byVehicle[vehicleID]
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].Window.StartAt.After(entry.Window.StartAt)
	})

	entries = append(entries, IndexEntry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = entry
	ix.byVehicle[vehicleID] = entries
}

// Remove drops the entry for bookingID, if present.
func (ix *IntervalIndex) Remove(vehicleID VehicleID, bookingID BookingID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := ix.byVehicle[vehicleID]
	for i, e := range entries {
		if e.BookingID == bookingID {
			ix.byVehicle[vehicleID] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Replace atomically swaps a booking's entry for a new window (reschedule).
func (ix *IntervalIndex) Replace(vehicleID VehicleID, entry IndexEntry) {
	ix.Remove(vehicleID, entry.BookingID)
	ix.Insert(vehicleID, entry)
}

// Overlapping returns entries whose windows intersect w, excluding
// excludeBookingID (pass "" for no exclusion). Never mutates state; an
// unknown vehicle yields an empty result.
func (ix *IntervalIndex) Overlapping(vehicleID VehicleID, w Window, excludeBookingID BookingID) []IndexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var result []IndexEntry
	for _, e := range ix.byVehicle[vehicleID] {
		if !e.Window.StartAt.Before(w.EndAt) {
			// Entries are ordered by StartAt; nothing further can overlap.
			break
		}
		if e.BookingID == excludeBookingID {
			continue
		}
		if e.Window.Overlaps(w) {
			result = append(result, e)
		}
	}
	return result
}

// Entries returns a copy of the vehicle's occupied windows in start order.
func (ix *IntervalIndex) Entries(vehicleID VehicleID) []IndexEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	entries := ix.byVehicle[vehicleID]
	result := make([]IndexEntry, len(entries))
	copy(result, entries)
	return result
}

// Len returns the number of occupied windows for a vehicle.
func (ix *IntervalIndex) Len(vehicleID VehicleID) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byVehicle[vehicleID])
}
