package repository // repository defines data access for the payment ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
)

// PaymentRepo is the authoritative payment ledger.  Attempts are keyed by
// the gateway order id; once a gateway payment id is recorded it is
// protected by a unique index so a replayed capture can never attach the
// same payment to two orders.  State transitions out of Pending are
// guarded conditional updates: the row that loses the race observes zero
// matched rows, which is the idempotency boundary for retries and
// webhook redelivery.  Attempts are financial records and are never
// deleted once they reach a terminal state.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Create inserts a new Pending attempt.  Callers must only invoke this
// after the external order was successfully created, so no local row ever
// pairs with a nonexistent gateway order.
func (r *PaymentRepo) Create(ctx context.Context, a *model.PaymentAttempt) error {
	const q = `INSERT INTO payment_attempts
	           (order_id, owner_id, amount_cents, currency, purpose, months_covered, state, seat_number, shift, seat_outcome)
	           VALUES (?, ?, ?, ?, ?, ?, 'PENDING', ?, ?, 'NOT_ATTEMPTED')`
	_, err := r.db.ExecContext(ctx, q,
		a.OrderID, a.OwnerID, a.AmountCents, a.Currency, string(a.Purpose), a.MonthsCovered, a.SeatNumber, string(a.Shift))
	return err
}

// GetByOrderID loads a single attempt.  ErrAttemptNotFound is returned
// when no attempt exists for the order id.
func (r *PaymentRepo) GetByOrderID(ctx context.Context, orderID string) (*model.PaymentAttempt, error) {
	const q = `SELECT order_id, owner_id, amount_cents, currency, purpose, months_covered, state,
	                  gateway_payment_id, seat_number, shift, seat_outcome, receipt_id, verified_by,
	                  failure_reason, created_at, settled_at
	           FROM payment_attempts WHERE order_id = ?`
	return r.scanAttempt(r.db.QueryRowContext(ctx, q, orderID))
}

// MarkVerified transitions an attempt from Pending to Verified, recording
// the gateway payment id, the receipt id and the verifier of record in
// the same statement.  The WHERE clause doubles as the idempotency guard:
// when the attempt already left Pending, ErrAttemptSettled is returned
// and no field is touched, so the gateway payment id is set exactly once.
func (r *PaymentRepo) MarkVerified(ctx context.Context, orderID, gatewayPaymentID, receiptID, verifiedBy string) error {
	const q = `UPDATE payment_attempts
	           SET state = 'VERIFIED', gateway_payment_id = ?, receipt_id = ?, verified_by = ?, settled_at = ?
	           WHERE order_id = ? AND state = 'PENDING'`
	res, err := r.db.ExecContext(ctx, q, gatewayPaymentID, receiptID, verifiedBy, time.Now().UTC(), orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.settledOrMissing(ctx, orderID)
	}
	return nil
}

// MarkFailed transitions an attempt from Pending to Failed with a reason.
// Like MarkVerified it is a no-op past the idempotency boundary.
func (r *PaymentRepo) MarkFailed(ctx context.Context, orderID, reason string) error {
	const q = `UPDATE payment_attempts
	           SET state = 'FAILED', failure_reason = ?, settled_at = ?
	           WHERE order_id = ? AND state = 'PENDING'`
	res, err := r.db.ExecContext(ctx, q, reason, time.Now().UTC(), orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.settledOrMissing(ctx, orderID)
	}
	return nil
}

// SetSeatOutcome records what happened to the coupled seat allocation of
// a Verified attempt.  It is written after the seat ledger transition has
// already been decided, so a plain conditional update suffices.
func (r *PaymentRepo) SetSeatOutcome(ctx context.Context, orderID string, outcome model.SeatOutcome) error {
	const q = `UPDATE payment_attempts SET seat_outcome = ? WHERE order_id = ? AND state = 'VERIFIED'`
	res, err := r.db.ExecContext(ctx, q, string(outcome), orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// ListConflicted returns Verified attempts whose seat allocation lost the
// race.  Operators use this for manual reconciliation (refund or manual
// seat reassignment).
func (r *PaymentRepo) ListConflicted(ctx context.Context) ([]model.PaymentAttempt, error) {
	const q = `SELECT order_id, owner_id, amount_cents, currency, purpose, months_covered, state,
	                  gateway_payment_id, seat_number, shift, seat_outcome, receipt_id, verified_by,
	                  failure_reason, created_at, settled_at
	           FROM payment_attempts
	           WHERE state = 'VERIFIED' AND seat_outcome = 'CONFLICTED'
	           ORDER BY settled_at DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.PaymentAttempt
	for rows.Next() {
		a, err := r.scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// PruneStalePending deletes Pending attempts older than the cutoff.  Such
// rows are intents that never reached the gateway's completion step; they
// are abandoned, not failed, and carry no captured money.  Terminal rows
// are never touched.  The number of pruned rows is returned.
func (r *PaymentRepo) PruneStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM payment_attempts WHERE state = 'PENDING' AND created_at < ?`
	res, err := r.db.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// settledOrMissing distinguishes a guard miss (attempt already terminal)
// from a missing attempt after a zero-row conditional update.
func (r *PaymentRepo) settledOrMissing(ctx context.Context, orderID string) error {
	var state string
	err := r.db.QueryRowContext(ctx, `SELECT state FROM payment_attempts WHERE order_id = ?`, orderID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAttemptNotFound
	}
	if err != nil {
		return err
	}
	return ErrAttemptSettled
}

// scanAttempt reads one attempt row from either *sql.Row or *sql.Rows.
func (r *PaymentRepo) scanAttempt(sc scanner) (*model.PaymentAttempt, error) {
	var a model.PaymentAttempt
	var purpose, state, shift, outcome string
	var gatewayPaymentID, receiptID, verifiedBy, failureReason sql.NullString
	var settledAt sql.NullTime
	err := sc.Scan(
		&a.OrderID, &a.OwnerID, &a.AmountCents, &a.Currency, &purpose, &a.MonthsCovered, &state,
		&gatewayPaymentID, &a.SeatNumber, &shift, &outcome, &receiptID, &verifiedBy,
		&failureReason, &a.CreatedAt, &settledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, err
	}
	a.Purpose = model.Purpose(purpose)
	a.State = model.AttemptState(state)
	a.Shift = model.Shift(shift)
	a.SeatOutcome = model.SeatOutcome(outcome)
	a.GatewayPaymentID = gatewayPaymentID.String
	a.ReceiptID = receiptID.String
	a.VerifiedBy = verifiedBy.String
	a.FailureReason = failureReason.String
	if settledAt.Valid {
		t := settledAt.Time.UTC()
		a.SettledAt = &t
	}
	return &a, nil
}
