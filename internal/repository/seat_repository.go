package repository // repository defines data access for the seat ledger

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives
	"errors"       // errors for sentinel comparisons
	"time"         // time for expiry arithmetic

	"github.com/iliyamo/library-seat-settlement/internal/model"
)

// SeatRepo is the authoritative seat ledger.  Every occupancy mutation
// goes through TryTransition, a single guarded UPDATE whose WHERE clause
// encodes the expected current state.  Concurrent requests racing for the
// same seat are decided by the database: exactly one statement matches,
// the rest observe zero matched rows and receive ErrSeatOccupied.
// All timestamps are stored and compared in UTC.
type SeatRepo struct {
	db        *sql.DB
	seatCount int // size of the fixed seat universe (1..seatCount)
}

// NewSeatRepo constructs a SeatRepo for a universe of seatCount seats.
func NewSeatRepo(db *sql.DB, seatCount int) *SeatRepo {
	return &SeatRepo{db: db, seatCount: seatCount}
}

// Expected describes the state a transition requires the seat to be in at
// the instant of application.  Owner is the member expected to hold the
// seat, or empty for "no active owner".  When ExpiresAt is non-nil the
// transition additionally pins the currently observed expiry: a release
// skips seats renewed between the sweeper's read and its write, and an
// extension refuses to apply arithmetic computed from an expiry the row
// no longer carries.
type Expected struct {
	Owner     string
	ExpiresAt *time.Time
}

// TryTransition atomically moves a seat from the expected state to the
// new one.  A non-empty newOwner occupies (or extends) the seat until
// newExpiry with the given shift; an empty newOwner releases it.  The
// guard and the mutation execute as one conditional UPDATE, never as a
// separate read followed by a write.  On success an occupancy span is
// appended to seat_history within the same transaction.  It returns
// ErrSeatNotFound when the seat number is outside the universe and
// ErrSeatOccupied when the guard did not hold.
func (r *SeatRepo) TryTransition(ctx context.Context, seatNumber int, expected Expected, newOwner string, newExpiry time.Time, shift model.Shift) error {
	if seatNumber < 1 || seatNumber > r.seatCount {
		return ErrSeatNotFound
	}
	if err := r.ensure(ctx, seatNumber); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	now := time.Now().UTC()
	switch {
	case newOwner == "":
		// Release: the expected owner must still hold the seat.  When the
		// caller pinned an expiry (sweeper), a renewed seat no longer
		// matches and the release is skipped.
		q := `UPDATE seats
		      SET occupancy_state = 'AVAILABLE', owner_id = '', shift = '', booked_at = NULL, expires_at = NULL
		      WHERE seat_number = ? AND occupancy_state = 'OCCUPIED' AND owner_id = ?`
		args := []interface{}{seatNumber, expected.Owner}
		if expected.ExpiresAt != nil {
			q += ` AND expires_at = ?`
			args = append(args, expected.ExpiresAt.UTC())
		}
		res, err = tx.ExecContext(ctx, q, args...)
	case expected.Owner != "":
		// Extension: the requesting member must be the active owner, and
		// when the caller pinned the expiry its new window was computed
		// from, the row must still carry that expiry.  A concurrent
		// extension moves it and this statement matches nothing, so two
		// paid extensions can never collapse into one.  booked_at is
		// preserved; only the window moves.
		q := `UPDATE seats
		      SET occupancy_state = 'OCCUPIED', shift = ?, expires_at = ?
		      WHERE seat_number = ? AND occupancy_state = 'OCCUPIED' AND owner_id = ? AND expires_at > ?`
		args := []interface{}{string(shift), newExpiry.UTC(), seatNumber, expected.Owner, now}
		if expected.ExpiresAt != nil {
			q += ` AND expires_at = ?`
			args = append(args, expected.ExpiresAt.UTC())
		}
		res, err = tx.ExecContext(ctx, q, args...)
	default:
		// Fresh booking: the seat must have no active owner.  A stored
		// OCCUPIED state with a past expiry is logically available and is
		// corrected by this same statement.
		const q = `UPDATE seats
		           SET occupancy_state = 'OCCUPIED', owner_id = ?, shift = ?, booked_at = ?, expires_at = ?
		           WHERE seat_number = ? AND NOT (occupancy_state = 'OCCUPIED' AND expires_at > ?)`
		res, err = tx.ExecContext(ctx, q, newOwner, string(shift), now, newExpiry.UTC(), seatNumber, now)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSeatOccupied
	}

	if newOwner != "" {
		const hq = `INSERT INTO seat_history (seat_number, owner_id, shift, booked_at, expires_at)
		            VALUES (?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, hq, seatNumber, newOwner, string(shift), now, newExpiry.UTC()); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// ensure lazily materializes a seat row in its zero state.  Repeated calls
// are harmless; INSERT IGNORE leaves an existing row untouched.
func (r *SeatRepo) ensure(ctx context.Context, seatNumber int) error {
	const q = `INSERT IGNORE INTO seats (seat_number) VALUES (?)`
	_, err := r.db.ExecContext(ctx, q, seatNumber)
	return err
}

// GetByNumber returns the current snapshot of a single seat.  Seats that
// were never referenced are reported in their zero state rather than as
// missing, because the universe is fixed.
func (r *SeatRepo) GetByNumber(ctx context.Context, seatNumber int) (*model.Seat, error) {
	if seatNumber < 1 || seatNumber > r.seatCount {
		return nil, ErrSeatNotFound
	}
	const q = `SELECT seat_number, occupancy_state, owner_id, shift, booked_at, expires_at
	           FROM seats WHERE seat_number = ?`
	row := r.db.QueryRowContext(ctx, q, seatNumber)
	s, err := scanSeat(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.Seat{SeatNumber: seatNumber, State: model.SeatAvailable}, nil
		}
		return nil, err
	}
	return s, nil
}

// ListAll returns a snapshot of every seat in the universe ordered by
// seat number.  Unreferenced seats appear in their zero state.
func (r *SeatRepo) ListAll(ctx context.Context) ([]model.Seat, error) {
	const q = `SELECT seat_number, occupancy_state, owner_id, shift, booked_at, expires_at
	           FROM seats ORDER BY seat_number`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byNumber := make(map[int]model.Seat, r.seatCount)
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		byNumber[s.SeatNumber] = *s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result := make([]model.Seat, 0, r.seatCount)
	for n := 1; n <= r.seatCount; n++ {
		if s, ok := byNumber[n]; ok {
			result = append(result, s)
			continue
		}
		result = append(result, model.Seat{SeatNumber: n, State: model.SeatAvailable})
	}
	return result, nil
}

// ListExpiredOccupied returns the seats still recorded Occupied whose
// expiry has passed.  The sweeper releases each one through TryTransition
// with the owner and expiry observed here as the guard.
func (r *SeatRepo) ListExpiredOccupied(ctx context.Context, now time.Time) ([]model.Seat, error) {
	const q = `SELECT seat_number, occupancy_state, owner_id, shift, booked_at, expires_at
	           FROM seats
	           WHERE occupancy_state = 'OCCUPIED' AND expires_at <= ?
	           ORDER BY seat_number`
	rows, err := r.db.QueryContext(ctx, q, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

// History returns the most recent occupancy spans of a seat, newest first.
func (r *SeatRepo) History(ctx context.Context, seatNumber, limit int) ([]model.SeatSpan, error) {
	if seatNumber < 1 || seatNumber > r.seatCount {
		return nil, ErrSeatNotFound
	}
	const q = `SELECT id, seat_number, owner_id, shift, booked_at, expires_at, recorded_at
	           FROM seat_history
	           WHERE seat_number = ?
	           ORDER BY recorded_at DESC, id DESC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, seatNumber, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	spans := make([]model.SeatSpan, 0, limit)
	for rows.Next() {
		var sp model.SeatSpan
		var shift string
		if err := rows.Scan(&sp.ID, &sp.SeatNumber, &sp.OwnerID, &shift, &sp.BookedAt, &sp.ExpiresAt, &sp.RecordedAt); err != nil {
			return nil, err
		}
		sp.Shift = model.Shift(shift)
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanSeat.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSeat reads one seat row and normalizes the logical state: a stored
// OCCUPIED with a past expiry is reported as EXPIRED_OCCUPIED, matching
// how the rest of the engine treats such seats as available.
func scanSeat(sc scanner) (*model.Seat, error) {
	var s model.Seat
	var state, owner, shift string
	var bookedAt, expiresAt sql.NullTime
	if err := sc.Scan(&s.SeatNumber, &state, &owner, &shift, &bookedAt, &expiresAt); err != nil {
		return nil, err
	}
	s.State = model.OccupancyState(state)
	s.OwnerID = owner
	s.Shift = model.Shift(shift)
	if bookedAt.Valid {
		t := bookedAt.Time.UTC()
		s.BookedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		s.ExpiresAt = &t
	}
	if s.State == model.SeatOccupied && s.ExpiresAt != nil && !s.ExpiresAt.After(time.Now().UTC()) {
		s.State = model.SeatExpiredOccupied
	}
	return &s, nil
}
