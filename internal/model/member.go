package model

import "time"

// PaymentStatus is the billing state of a member account.  It is distinct
// from seat occupancy: a member may be Overdue while still holding a seat
// whose own expiry has not elapsed.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "PAID"
	StatusPending PaymentStatus = "PENDING"
	StatusOverdue PaymentStatus = "OVERDUE"
	StatusExempt  PaymentStatus = "EXEMPT"
)

// MemberAccount is the account summary the engine maintains for each
// member.  The identity provider owns the member itself; this record only
// tracks the fields settlement touches.  It is informational once the
// ledgers are correct, so plain last-writer-wins updates are acceptable,
// but seat and payment fields are written only after the corresponding
// ledger transition succeeded.
type MemberAccount struct {
	MemberID       string        `json:"member_id"`
	SeatNumber     int           `json:"seat_number,omitempty"` // 0 when no seat is assigned
	PaymentStatus  PaymentStatus `json:"payment_status"`
	NextDueDate    *time.Time    `json:"next_due_date,omitempty"`
	TotalPaidCents int64         `json:"total_paid_cents"`
	MirrorDirty    bool          `json:"-"` // pending spreadsheet sync
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// MemberPayment is one append-only entry of a member's payment history.
type MemberPayment struct {
	ID          uint64    `json:"id"`
	MemberID    string    `json:"member_id"`
	ReceiptID   string    `json:"receipt_id"`
	AmountCents int64     `json:"amount_cents"`
	Months      int       `json:"months"`
	PaidAt      time.Time `json:"paid_at"`
}
