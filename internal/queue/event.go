// Package queue defines message payloads exchanged over the message broker.
package queue

// SeatOccupancyChangedEvent is published whenever a seat transition is
// applied, whether by a settlement or by the lifecycle sweeper.  It
// carries enough for downstream consumers to refresh displays without
// querying the primary database.
type SeatOccupancyChangedEvent struct {
	SeatNumber int    `json:"seat_number"`
	State      string `json:"occupancy_state"`
	OwnerID    string `json:"owner_id,omitempty"`
	Shift      string `json:"shift,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	ChangedAt  string `json:"changed_at"`
}

// PaymentSettledEvent is published when a payment attempt reaches a
// terminal Verified state.  The seat outcome travels with it so the audit
// trail captures paid-but-unallocated settlements explicitly.
type PaymentSettledEvent struct {
	OrderID     string `json:"order_id"`
	ReceiptID   string `json:"receipt_id"`
	MemberID    string `json:"member_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Purpose     string `json:"purpose"`
	SeatNumber  int    `json:"seat_number,omitempty"`
	SeatOutcome string `json:"seat_allocation_outcome"`
	VerifiedBy  string `json:"verified_by"`
	SettledAt   string `json:"settled_at"`
}
