package booking

// ConflictDetector answers overlap queries against the interval index.
// It never mutates state and never errors for "no conflicts"; an unknown
// vehicle is treated as an empty index.
type ConflictDetector struct {
	Index *IntervalIndex
}

func NewConflictDetector(index *IntervalIndex) *ConflictDetector {
	return &ConflictDetector{Index: index}
}

// FindConflicts returns the slot-holding entries whose windows intersect the
// candidate window, excluding excludeBookingID (pass "" for none).
func (d *ConflictDetector) FindConflicts(vehicleID VehicleID, w Window, excludeBookingID BookingID) []IndexEntry {
	return d.Index.Overlapping(vehicleID, w, excludeBookingID)
}

// HasConflict is a convenience for callers that only need a yes/no answer.
func (d *ConflictDetector) HasConflict(vehicleID VehicleID, w Window, excludeBookingID BookingID) bool {
	return len(d.FindConflicts(vehicleID, w, excludeBookingID)) > 0
}
