// Package settlement implements the payment-settlement and
// seat-allocation engine.  It couples an irreversible external payment
// capture to a locally contended seat allocation: verification outcome
// and seat outcome are decided separately, never rolled into one
// all-or-nothing transaction, because money that moved cannot be given
// back by this system.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
)

// SeatLedger is the engine's view of the seat store.  TryTransition must
// be a single conditional write: guard on the expected state, mutate only
// if the guard holds, and signal a guard miss with
// repository.ErrSeatOccupied.
type SeatLedger interface {
	TryTransition(ctx context.Context, seatNumber int, expected repository.Expected, newOwner string, newExpiry time.Time, shift model.Shift) error
	GetByNumber(ctx context.Context, seatNumber int) (*model.Seat, error)
}

// PaymentLedger is the engine's view of the payment attempt store.
// MarkVerified and MarkFailed must be conditional on the Pending state
// and return repository.ErrAttemptSettled when the attempt already left
// it; that error is the engine's idempotency boundary.
type PaymentLedger interface {
	Create(ctx context.Context, a *model.PaymentAttempt) error
	GetByOrderID(ctx context.Context, orderID string) (*model.PaymentAttempt, error)
	MarkVerified(ctx context.Context, orderID, gatewayPaymentID, receiptID, verifiedBy string) error
	MarkFailed(ctx context.Context, orderID, reason string) error
	SetSeatOutcome(ctx context.Context, orderID string, outcome model.SeatOutcome) error
}

// MemberStore is the engine's view of the member account summaries.  The
// summary is owned by a separate collaborator store; the engine only
// writes payment and seat fields, and only after the corresponding ledger
// transition succeeded.
type MemberStore interface {
	Ensure(ctx context.Context, memberID string) error
	ApplyPayment(ctx context.Context, memberID, receiptID string, amountCents int64, months int, now time.Time) error
	AssignSeat(ctx context.Context, memberID string, seatNumber int) error
}

// OrderGateway is the engine's view of the external payment gateway.
type OrderGateway interface {
	CreateOrder(ctx context.Context, amountCents int64, currency string, notes map[string]string) (string, error)
	VerifySignature(orderID, paymentID, signature string) bool
	KeyID() string
}

// Notifier receives state-change notifications with a fire-and-forget
// contract: implementations must never return an error or block the
// settlement path, because a failed notification must not fail the
// underlying ledger operation.
type Notifier interface {
	SeatChanged(seat model.Seat)
	PaymentSettled(a model.PaymentAttempt)
}

// ErrInvalidSignature is returned by Verify when the asserted signature
// does not match the recomputed one.  The attempt is transitioned to
// Failed and the verification is never retried automatically.
var ErrInvalidSignature = errors.New("invalid payment signature")

// ErrValidation is returned for malformed input (bad seat number,
// non-positive amount).  Nothing is mutated.
var ErrValidation = errors.New("validation failed")

// VerifyStatus tells the caller whether this call performed the
// settlement or merely observed an earlier one.
type VerifyStatus string

const (
	StatusVerified         VerifyStatus = "VERIFIED"
	StatusAlreadyProcessed VerifyStatus = "ALREADY_PROCESSED"
)

// VerifyResult is the definitive settlement outcome reported to callers.
// When SeatOutcome is Conflicted the payment still stands captured; the
// conflict is a distinct, expected status and must never be presented as
// a generic failure.
type VerifyResult struct {
	Status      VerifyStatus      `json:"status"`
	ReceiptID   string            `json:"receipt_id"`
	SeatNumber  int               `json:"seat_number,omitempty"`
	SeatOutcome model.SeatOutcome `json:"seat_allocation_outcome"`
}

// OrderInput describes a requested payment order.
type OrderInput struct {
	MemberID    string
	AmountCents int64
	Purpose     model.Purpose
	Months      int
	SeatNumber  int         // 0 when the payment carries no seat target
	Shift       model.Shift // usage window for seat bookings
}

// OrderResult is returned to the client so it can open the gateway's
// checkout flow.
type OrderResult struct {
	OrderID      string `json:"order_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	GatewayKeyID string `json:"gateway_key_id"`
}
