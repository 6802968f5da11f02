package model

import "time"

// AttemptState enumerates the verification outcome of a payment attempt.
// Transitions are one-way: Pending -> Verified or Pending -> Failed.
// A Verified or Failed attempt is never mutated again; replayed
// verification calls must observe the terminal state and return it.
type AttemptState string

const (
	AttemptPending  AttemptState = "PENDING"
	AttemptVerified AttemptState = "VERIFIED"
	AttemptFailed   AttemptState = "FAILED"
)

// Purpose distinguishes what a payment pays for.
type Purpose string

const (
	PurposeSeatBooking Purpose = "SEAT_BOOKING" // new booking or extension of a seat
	PurposeFeeRenewal  Purpose = "FEE_RENEWAL"  // membership fee only, no seat target
)

// SeatOutcome records what happened to the coupled seat allocation after
// a payment reached Verified.  Conflicted is the explicit partial-failure
// state: money stands captured but the seat race was lost, and operators
// reconcile manually.
type SeatOutcome string

const (
	SeatNotAttempted SeatOutcome = "NOT_ATTEMPTED"
	SeatAllocated    SeatOutcome = "ALLOCATED"
	SeatConflicted   SeatOutcome = "CONFLICTED"
)

// PaymentAttempt is the financial record of one gateway order.  It is
// keyed by the gateway order identifier and retained indefinitely; stale
// Pending rows are pruned by the sweeper, terminal rows never are.
type PaymentAttempt struct {
	OrderID          string       `json:"order_id"`
	OwnerID          string       `json:"owner_id"`
	AmountCents      int64        `json:"amount_cents"`
	Currency         string       `json:"currency"`
	Purpose          Purpose      `json:"purpose"`
	MonthsCovered    int          `json:"months_covered"`
	State            AttemptState `json:"state"`
	GatewayPaymentID string       `json:"gateway_payment_id,omitempty"` // set exactly once, at the Pending->Verified edge
	SeatNumber       int          `json:"seat_number,omitempty"`        // 0 when the attempt carries no seat target
	Shift            Shift        `json:"shift,omitempty"`              // requested usage window for seat bookings
	SeatOutcome      SeatOutcome  `json:"seat_allocation_outcome"`
	ReceiptID        string       `json:"receipt_id,omitempty"` // assigned on verification
	VerifiedBy       string       `json:"verified_by,omitempty"`
	FailureReason    string       `json:"failure_reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	SettledAt        *time.Time   `json:"settled_at,omitempty"`
}
