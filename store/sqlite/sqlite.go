/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (booking.Store, recurrence.RuleStore,
  fees.FeeStore) using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  bookings:       Reservation records; never deleted, terminal states kept
                  for audit
  booking_audits: Preemption audit trail, append-only
  rules:          Recurring-reservation templates with their watermark
  rule_generated: Occurrence-date -> booking mapping (materialization
                  idempotency)
  late_fees:      Late-return fee records

RETENTION:
  Bookings and audits are never deleted. Cancellation, rejection, expiry
  and completion are status updates; the audit table has no UPDATE path
  at all.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of WAL mode. Cross-row
  consistency for a vehicle is already serialized by the engine's
  per-vehicle critical sections; the mutex only guards connection-level
  races.

SEE ALSO:
  - booking/store.go:        Interface definition
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/fees"
	"github.com/fleetpool/booking-engine/recurrence"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Bookings (never deleted; terminal states kept for audit)
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requester_role TEXT NOT NULL DEFAULT 'member',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL,
		priority_score TEXT NOT NULL,
		is_emergency BOOLEAN NOT NULL DEFAULT FALSE,
		emergency_reason TEXT,
		notes TEXT,
		idempotency_key TEXT,
		submitted_at TEXT NOT NULL,
		approved_by TEXT,
		approved_at TEXT,
		status_reason TEXT,
		check_out_at TEXT,
		check_out_odometer INTEGER,
		actual_return_at TEXT,
		return_odometer INTEGER,
		check_in_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: per-vehicle range scans over slot-holding bookings
	CREATE INDEX IF NOT EXISTS idx_bookings_vehicle_start
		ON bookings(vehicle_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_bookings_status
		ON bookings(status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_idempotency
		ON bookings(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';

	-- Preemption audit trail (append-only)
	CREATE TABLE IF NOT EXISTS booking_audits (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		outcome TEXT NOT NULL,
		emergency_id TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		detail TEXT,
		affected TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audits_booking
		ON booking_audits(booking_id);
	CREATE INDEX IF NOT EXISTS idx_audits_emergency
		ON booking_audits(emergency_id);

	-- Recurring-reservation rules
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		requester_role TEXT NOT NULL DEFAULT 'member',
		pattern TEXT NOT NULL,
		interval INTEGER NOT NULL,
		days_of_week INTEGER NOT NULL DEFAULT 0,
		start_hour INTEGER NOT NULL,
		start_minute INTEGER NOT NULL,
		end_hour INTEGER NOT NULL,
		end_minute INTEGER NOT NULL,
		time_zone TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		materialized_until TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_status
		ON rules(status);

	-- Occurrence-date -> booking mapping (materialization idempotency)
	CREATE TABLE IF NOT EXISTS rule_generated (
		rule_id TEXT NOT NULL,
		occurrence_date TEXT NOT NULL,
		booking_id TEXT NOT NULL,
		PRIMARY KEY (rule_id, occurrence_date)
	);

	-- Late-return fees
	CREATE TABLE IF NOT EXISTS late_fees (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL,
		check_in_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		late_minutes INTEGER NOT NULL,
		grace_minutes INTEGER NOT NULL,
		chargeable_minutes INTEGER NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT,
		resolved_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fees_booking
		ON late_fees(booking_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fees_check_in
		ON late_fees(check_in_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BOOKING STORE
// =============================================================================

const bookingColumns = `id, vehicle_id, group_id, requester_id, requester_role,
	start_at, end_at, status, priority_score, is_emergency, emergency_reason,
	notes, idempotency_key, submitted_at, approved_by, approved_at, status_reason,
	check_out_at, check_out_odometer, actual_return_at, return_odometer,
	check_in_id, created_at, updated_at`

func (s *Store) Put(ctx context.Context, b *booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			status = excluded.status,
			priority_score = excluded.priority_score,
			approved_by = excluded.approved_by,
			approved_at = excluded.approved_at,
			status_reason = excluded.status_reason,
			check_out_at = excluded.check_out_at,
			check_out_odometer = excluded.check_out_odometer,
			actual_return_at = excluded.actual_return_at,
			return_odometer = excluded.return_odometer,
			check_in_id = excluded.check_in_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.VehicleID, b.GroupID, b.RequesterID, b.RequesterRole,
		formatTime(b.Window.StartAt), formatTime(b.Window.EndAt),
		b.Status, b.PriorityScore.String(), b.IsEmergency, b.EmergencyReason,
		b.Notes, nullString(b.IdempotencyKey), formatTime(b.SubmittedAt),
		nullUserID(b.ApprovedBy), nullTime(b.ApprovedAt), b.StatusReason,
		nullTime(b.CheckOutAt), nullInt(b.CheckOutOdometer),
		nullTime(b.ActualReturnAt), nullInt(b.ReturnOdometer),
		b.CheckInID, formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
}

func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBooking(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE idempotency_key = ?`, key)
}

func (s *Store) ListByVehicle(ctx context.Context, vehicleID booking.VehicleID) ([]*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE vehicle_id = ? ORDER BY start_at ASC`, vehicleID)
}

func (s *Store) ListHolding(ctx context.Context) ([]*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE status IN ('pending_approval', 'confirmed', 'checked_out')
		 ORDER BY vehicle_id, start_at ASC`)
}

func (s *Store) queryBooking(ctx context.Context, query string, args ...any) (*booking.Booking, error) {
	bookings, err := s.queryBookings(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(bookings) == 0 {
		return nil, booking.ErrBookingNotFound
	}
	return bookings[0], nil
}

func (s *Store) queryBookings(ctx context.Context, query string, args ...any) ([]*booking.Booking, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var result []*booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func scanBooking(rows *sql.Rows) (*booking.Booking, error) {
	var (
		b                                 booking.Booking
		startAt, endAt, submittedAt       string
		createdAt, updatedAt, score       string
		emergencyReason, notes, key       sql.NullString
		approvedBy, statusReason, checkIn sql.NullString
		approvedAt, checkOutAt, returnAt  sql.NullString
		checkOutOdo, returnOdo            sql.NullInt64
	)

	err := rows.Scan(
		&b.ID, &b.VehicleID, &b.GroupID, &b.RequesterID, &b.RequesterRole,
		&startAt, &endAt, &b.Status, &score, &b.IsEmergency, &emergencyReason,
		&notes, &key, &submittedAt, &approvedBy, &approvedAt, &statusReason,
		&checkOutAt, &checkOutOdo, &returnAt, &returnOdo,
		&checkIn, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}

	if b.Window.StartAt, err = parseTime(startAt); err != nil {
		return nil, err
	}
	if b.Window.EndAt, err = parseTime(endAt); err != nil {
		return nil, err
	}
	if b.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if b.PriorityScore, err = decimal.NewFromString(score); err != nil {
		return nil, fmt.Errorf("failed to parse priority score %q: %w", score, err)
	}

	b.EmergencyReason = emergencyReason.String
	b.Notes = notes.String
	b.IdempotencyKey = key.String
	b.StatusReason = statusReason.String
	b.CheckInID = checkIn.String
	if approvedBy.Valid {
		u := booking.UserID(approvedBy.String)
		b.ApprovedBy = &u
	}
	if b.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if b.CheckOutAt, err = parseNullTime(checkOutAt); err != nil {
		return nil, err
	}
	if b.ActualReturnAt, err = parseNullTime(returnAt); err != nil {
		return nil, err
	}
	if checkOutOdo.Valid {
		v := checkOutOdo.Int64
		b.CheckOutOdometer = &v
	}
	if returnOdo.Valid {
		v := returnOdo.Int64
		b.ReturnOdometer = &v
	}
	return &b, nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, rec booking.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := make([]string, len(rec.Affected))
	for i, id := range rec.Affected {
		affected[i] = string(id)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_audits (id, at, outcome, emergency_id, booking_id, detail, affected)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, formatTime(rec.At), rec.Outcome, rec.EmergencyID, rec.BookingID,
		rec.Detail, strings.Join(affected, ","),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (s *Store) ListAudits(ctx context.Context, id booking.BookingID) ([]booking.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, outcome, emergency_id, booking_id, detail, affected
		FROM booking_audits
		WHERE booking_id = ? OR emergency_id = ?
		   OR (',' || affected || ',') LIKE ?
		ORDER BY at ASC`,
		id, id, "%,"+string(id)+",%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var result []booking.AuditRecord
	for rows.Next() {
		var (
			rec      booking.AuditRecord
			at       string
			detail   sql.NullString
			affected sql.NullString
		)
		if err := rows.Scan(&rec.ID, &at, &rec.Outcome, &rec.EmergencyID, &rec.BookingID, &detail, &affected); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if rec.At, err = parseTime(at); err != nil {
			return nil, err
		}
		rec.Detail = detail.String
		if affected.String != "" {
			for _, a := range strings.Split(affected.String, ",") {
				rec.Affected = append(rec.Affected, booking.BookingID(a))
			}
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, vehicle_id, group_id, requester_id, requester_role,
	pattern, interval, days_of_week, start_hour, start_minute, end_hour,
	end_minute, time_zone, start_date, end_date, status, materialized_until,
	notes, created_at, updated_at`

// PutRule implements recurrence.RuleStore.
func (s *Store) PutRule(ctx context.Context, r *recurrence.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rule transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			materialized_until = excluded.materialized_until,
			updated_at = excluded.updated_at`,
		r.ID, r.VehicleID, r.GroupID, r.RequesterID, r.Role,
		r.Pattern, r.Interval, r.DaysOfWeek,
		r.StartTime.Hour, r.StartTime.Minute, r.EndTime.Hour, r.EndTime.Minute,
		r.TimeZone, formatDate(r.StartDate), nullDate(r.EndDate), r.Status,
		nullDateValue(r.LastMaterializedUntil), r.Notes,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	for date, bookingID := range r.Generated {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO rule_generated (rule_id, occurrence_date, booking_id)
			VALUES (?, ?, ?)`,
			r.ID, date, bookingID,
		)
		if err != nil {
			return fmt.Errorf("failed to save generated occurrence: %w", err)
		}
	}
	return tx.Commit()
}

// GetRule implements recurrence.RuleStore.
func (s *Store) GetRule(ctx context.Context, id recurrence.RuleID) (*recurrence.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, recurrence.ErrRuleNotFound
	}
	return rules[0], nil
}

// ListActiveRules implements recurrence.RuleStore.
func (s *Store) ListActiveRules(ctx context.Context) ([]*recurrence.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE status = 'active'`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]*recurrence.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var result []*recurrence.Rule
	for rows.Next() {
		var (
			r                                   recurrence.Rule
			startDate, created, updated         string
			timeZone, endDate, watermark, notes sql.NullString
		)
		err := rows.Scan(&r.ID, &r.VehicleID, &r.GroupID, &r.RequesterID, &r.Role,
			&r.Pattern, &r.Interval, &r.DaysOfWeek,
			&r.StartTime.Hour, &r.StartTime.Minute, &r.EndTime.Hour, &r.EndTime.Minute,
			&timeZone, &startDate, &endDate, &r.Status, &watermark,
			&notes, &created, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		r.TimeZone = timeZone.String
		r.Notes = notes.String
		if r.StartDate, err = parseTime(startDate); err != nil {
			return nil, err
		}
		if endDate.Valid && endDate.String != "" {
			d, err := parseTime(endDate.String)
			if err != nil {
				return nil, err
			}
			r.EndDate = &d
		}
		if watermark.Valid && watermark.String != "" {
			if r.LastMaterializedUntil, err = parseTime(watermark.String); err != nil {
				return nil, err
			}
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}

		if r.Generated, err = s.loadGenerated(ctx, r.ID); err != nil {
			return nil, err
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *Store) loadGenerated(ctx context.Context, id recurrence.RuleID) (map[string]booking.BookingID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurrence_date, booking_id FROM rule_generated WHERE rule_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query generated occurrences: %w", err)
	}
	defer rows.Close()

	generated := make(map[string]booking.BookingID)
	for rows.Next() {
		var date, bookingID string
		if err := rows.Scan(&date, &bookingID); err != nil {
			return nil, fmt.Errorf("failed to scan generated occurrence: %w", err)
		}
		generated[date] = booking.BookingID(bookingID)
	}
	return generated, rows.Err()
}

// =============================================================================
// FEE STORE
// =============================================================================

const feeColumns = `id, booking_id, check_in_id, user_id, late_minutes,
	grace_minutes, chargeable_minutes, amount, method, status, status_reason,
	resolved_by, created_at, updated_at`

func (s *Store) PutFee(ctx context.Context, f *fees.LateReturnFee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO late_fees (`+feeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			status_reason = excluded.status_reason,
			resolved_by = excluded.resolved_by,
			updated_at = excluded.updated_at`,
		f.ID, f.BookingID, f.CheckInID, f.UserID, f.LateMinutes,
		f.GraceMinutes, f.ChargeableMinutes, f.Amount.String(), f.Method,
		f.Status, f.StatusReason, nullUserID(f.ResolvedBy),
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save fee: %w", err)
	}
	return nil
}

func (s *Store) GetFee(ctx context.Context, id fees.FeeID) (*fees.LateReturnFee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryFee(ctx, `SELECT `+feeColumns+` FROM late_fees WHERE id = ?`, id)
}

func (s *Store) GetFeeByCheckIn(ctx context.Context, checkInID string) (*fees.LateReturnFee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryFee(ctx, `SELECT `+feeColumns+` FROM late_fees WHERE check_in_id = ?`, checkInID)
}

func (s *Store) ListFeesByBooking(ctx context.Context, id booking.BookingID) ([]*fees.LateReturnFee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryFees(ctx,
		`SELECT `+feeColumns+` FROM late_fees WHERE booking_id = ? ORDER BY created_at ASC`, id)
}

func (s *Store) queryFee(ctx context.Context, query string, args ...any) (*fees.LateReturnFee, error) {
	result, err := s.queryFees(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fees.ErrFeeNotFound
	}
	return result[0], nil
}

func (s *Store) queryFees(ctx context.Context, query string, args ...any) ([]*fees.LateReturnFee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fees: %w", err)
	}
	defer rows.Close()

	var result []*fees.LateReturnFee
	for rows.Next() {
		var (
			f                        fees.LateReturnFee
			amount, created, updated string
			statusReason, resolvedBy sql.NullString
		)
		err := rows.Scan(&f.ID, &f.BookingID, &f.CheckInID, &f.UserID,
			&f.LateMinutes, &f.GraceMinutes, &f.ChargeableMinutes,
			&amount, &f.Method, &f.Status, &statusReason, &resolvedBy,
			&created, &updated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee: %w", err)
		}
		if f.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse fee amount %q: %w", amount, err)
		}
		f.StatusReason = statusReason.String
		if resolvedBy.Valid {
			u := booking.UserID(resolvedBy.String)
			f.ResolvedBy = &u
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		result = append(result, &f)
	}
	return result, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
func formatDate(t time.Time) string { return t.Format("2006-01-02") }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Date-only columns round-trip through the same parser.
		if d, derr := time.ParseInLocation("2006-01-02", s, time.UTC); derr == nil {
			return d, nil
		}
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullUserID(u *booking.UserID) any {
	if u == nil {
		return nil
	}
	return string(*u)
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatDate(*t)
}

func nullDateValue(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatDate(t)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
