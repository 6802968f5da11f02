package repository // repository defines data access for member account summaries

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
)

// MemberRepo persists the account summary the engine maintains per
// member.  The summary is informational once the ledgers are correct, so
// updates use ordinary last-writer-wins semantics; the exception is
// MarkOverdueBefore, which guards on the current status so Exempt and
// already-Overdue accounts are never touched.  Every mutation flags the
// row dirty for the spreadsheet mirror sweep.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo returns a new MemberRepo bound to the given database.
func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{db: db} }

// Ensure lazily creates the account row for a member.  Existing rows are
// left untouched.
func (r *MemberRepo) Ensure(ctx context.Context, memberID string) error {
	const q = `INSERT IGNORE INTO member_accounts (member_id) VALUES (?)`
	_, err := r.db.ExecContext(ctx, q, memberID)
	return err
}

// Get loads the account summary for a member.
func (r *MemberRepo) Get(ctx context.Context, memberID string) (*model.MemberAccount, error) {
	const q = `SELECT member_id, seat_number, payment_status, next_due_date, total_paid_cents,
	                  mirror_dirty, created_at, updated_at
	           FROM member_accounts WHERE member_id = ?`
	var m model.MemberAccount
	var status string
	var due sql.NullTime
	err := r.db.QueryRowContext(ctx, q, memberID).Scan(
		&m.MemberID, &m.SeatNumber, &status, &due, &m.TotalPaidCents,
		&m.MirrorDirty, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	m.PaymentStatus = model.PaymentStatus(status)
	if due.Valid {
		t := due.Time.UTC()
		m.NextDueDate = &t
	}
	return &m, nil
}

// ApplyPayment credits a verified payment to the account: total paid
// grows, the due date moves forward by the covered months (from the later
// of now and the current due date), the status becomes Paid and a payment
// history entry is appended.  The whole credit is one transaction so a
// crash cannot record the history entry without the summary update.
func (r *MemberRepo) ApplyPayment(ctx context.Context, memberID, receiptID string, amountCents int64, months int, now time.Time) error {
	if err := r.Ensure(ctx, memberID); err != nil {
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

	// Advance the due date from whichever is later: the current due date
	// (early renewal keeps credit) or now (lapsed accounts do not lose
	// the new months to the past).
	const q = `UPDATE member_accounts
	           SET total_paid_cents = total_paid_cents + ?,
	               payment_status = 'PAID',
	               next_due_date = DATE_ADD(GREATEST(COALESCE(next_due_date, ?), ?), INTERVAL ? MONTH),
	               mirror_dirty = 1
	           WHERE member_id = ?`
	res, err := tx.ExecContext(ctx, q, amountCents, now.UTC(), now.UTC(), months, memberID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}

	const hq = `INSERT INTO member_payments (member_id, receipt_id, amount_cents, months, paid_at)
	            VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, hq, memberID, receiptID, amountCents, months, now.UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// AssignSeat records the member's current seat reference.  Written only
// after the seat ledger transition succeeded.
func (r *MemberRepo) AssignSeat(ctx context.Context, memberID string, seatNumber int) error {
	const q = `UPDATE member_accounts SET seat_number = ?, mirror_dirty = 1 WHERE member_id = ?`
	res, err := r.db.ExecContext(ctx, q, seatNumber, memberID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearSeat removes the seat reference, but only if the member still
// points at the given seat.  The guard keeps a sweep that raced with a
// fresh booking from wiping the new assignment.
func (r *MemberRepo) ClearSeat(ctx context.Context, memberID string, seatNumber int) error {
	const q = `UPDATE member_accounts SET seat_number = 0, mirror_dirty = 1
	           WHERE member_id = ? AND seat_number = ?`
	_, err := r.db.ExecContext(ctx, q, memberID, seatNumber)
	return err
}

// MarkOverdueBefore flips accounts whose due date has passed to Overdue.
// Exempt and already-Overdue accounts are excluded by the guard.  The
// number of transitioned accounts is returned.
func (r *MemberRepo) MarkOverdueBefore(ctx context.Context, now time.Time) (int64, error) {
	const q = `UPDATE member_accounts
	           SET payment_status = 'OVERDUE', mirror_dirty = 1
	           WHERE next_due_date IS NOT NULL AND next_due_date <= ?
	             AND payment_status NOT IN ('OVERDUE', 'EXEMPT')`
	res, err := r.db.ExecContext(ctx, q, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListDirty returns accounts flagged for the spreadsheet mirror sync.
func (r *MemberRepo) ListDirty(ctx context.Context) ([]model.MemberAccount, error) {
	const q = `SELECT member_id, seat_number, payment_status, next_due_date, total_paid_cents,
	                  mirror_dirty, created_at, updated_at
	           FROM member_accounts WHERE mirror_dirty = 1 ORDER BY member_id`
	return r.list(ctx, q)
}

// ListAll returns every account summary ordered by member id.  The mirror
// writes the full dashboard, so it needs all rows, not just dirty ones.
func (r *MemberRepo) ListAll(ctx context.Context) ([]model.MemberAccount, error) {
	const q = `SELECT member_id, seat_number, payment_status, next_due_date, total_paid_cents,
	                  mirror_dirty, created_at, updated_at
	           FROM member_accounts ORDER BY member_id`
	return r.list(ctx, q)
}

// ClearDirty resets the mirror flag for the rows a sync actually wrote.
// The guard pins the updated_at each account carried when it was read,
// so a row mutated after the sync started keeps its flag and is mirrored
// again on the next pass.  updated_at has microsecond precision.
func (r *MemberRepo) ClearDirty(ctx context.Context, synced []model.MemberAccount) error {
	if len(synced) == 0 {
		return nil
	}
	query := `UPDATE member_accounts SET mirror_dirty = 0 WHERE (member_id, updated_at) IN (`
	args := make([]interface{}, 0, len(synced)*2)
	for i, m := range synced {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, m.MemberID, m.UpdatedAt.UTC())
	}
	query += ")"
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// Payments returns the member's payment history, newest first.
func (r *MemberRepo) Payments(ctx context.Context, memberID string, limit int) ([]model.MemberPayment, error) {
	const q = `SELECT id, member_id, receipt_id, amount_cents, months, paid_at
	           FROM member_payments
	           WHERE member_id = ?
	           ORDER BY paid_at DESC, id DESC
	           LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, memberID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]model.MemberPayment, 0, limit)
	for rows.Next() {
		var p model.MemberPayment
		if err := rows.Scan(&p.ID, &p.MemberID, &p.ReceiptID, &p.AmountCents, &p.Months, &p.PaidAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *MemberRepo) list(ctx context.Context, query string) ([]model.MemberAccount, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.MemberAccount
	for rows.Next() {
		var m model.MemberAccount
		var status string
		var due sql.NullTime
		if err := rows.Scan(
			&m.MemberID, &m.SeatNumber, &status, &due, &m.TotalPaidCents,
			&m.MirrorDirty, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.PaymentStatus = model.PaymentStatus(status)
		if due.Valid {
			t := due.Time.UTC()
			m.NextDueDate = &t
		}
		accounts = append(accounts, m)
	}
	return accounts, rows.Err()
}
