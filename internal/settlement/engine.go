package settlement

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
)

// Engine orchestrates order creation, payment verification and the
// coupled seat allocation.  All collaborators are injected once at
// construction and the engine holds no locks across gateway calls: the
// external order is created before any local row exists, and every local
// mutation is a guarded single write in one of the ledgers.
type Engine struct {
	seats    SeatLedger
	payments PaymentLedger
	members  MemberStore
	gateway  OrderGateway
	notifier Notifier
	currency string
	log      *slog.Logger
	now      func() time.Time // injectable clock for tests
}

// NewEngine wires the settlement engine.  notifier may be nil, in which
// case state changes are simply not fanned out.
func NewEngine(seats SeatLedger, payments PaymentLedger, members MemberStore, gw OrderGateway, notifier Notifier, currency string, log *slog.Logger) *Engine {
	if seats == nil || payments == nil || members == nil || gw == nil {
		panic("nil dependency passed to NewEngine")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		seats:    seats,
		payments: payments,
		members:  members,
		gateway:  gw,
		notifier: notifier,
		currency: currency,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates the request, asks the gateway for an order and
// only then records the Pending attempt, so a gateway failure leaves no
// orphaned local row.  The returned OrderResult carries everything a
// client needs to open checkout.
func (e *Engine) CreateOrder(ctx context.Context, in OrderInput) (*OrderResult, error) {
	if err := validateOrderInput(&in); err != nil {
		return nil, err
	}
	// Identity is owned by the IdP; the account summary row is created
	// lazily the first time a member transacts.
	if err := e.members.Ensure(ctx, in.MemberID); err != nil {
		return nil, fmt.Errorf("ensure member account: %w", err)
	}
	if in.SeatNumber > 0 {
		// Reject out-of-universe seats before money is involved.
		if _, err := e.seats.GetByNumber(ctx, in.SeatNumber); err != nil {
			return nil, err
		}
	}

	notes := map[string]string{
		"member_id": in.MemberID,
		"purpose":   string(in.Purpose),
		"months":    strconv.Itoa(in.Months),
	}
	if in.SeatNumber > 0 {
		notes["seat_number"] = strconv.Itoa(in.SeatNumber)
		notes["shift"] = string(in.Shift)
	}
	orderID, err := e.gateway.CreateOrder(ctx, in.AmountCents, e.currency, notes)
	if err != nil {
		return nil, err
	}

	attempt := &model.PaymentAttempt{
		OrderID:       orderID,
		OwnerID:       in.MemberID,
		AmountCents:   in.AmountCents,
		Currency:      e.currency,
		Purpose:       in.Purpose,
		MonthsCovered: in.Months,
		SeatNumber:    in.SeatNumber,
		Shift:         in.Shift,
	}
	if err := e.payments.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record pending attempt: %w", err)
	}
	return &OrderResult{
		OrderID:      orderID,
		AmountCents:  in.AmountCents,
		Currency:     e.currency,
		GatewayKeyID: e.gateway.KeyID(),
	}, nil
}

// Verify processes the verification assertion a client returns after
// in-browser payment completion, on behalf of the authenticated member.
// A mismatched signature fails the attempt; a valid one settles it.
// Calling Verify again with the same triple returns
// StatusAlreadyProcessed with the original receipt and re-runs no side
// effects.  An order owned by another member is reported as not found,
// so receipts never leak across members.
func (e *Engine) Verify(ctx context.Context, memberID, orderID, paymentID, signature string) (*VerifyResult, error) {
	if memberID == "" || orderID == "" || paymentID == "" {
		return nil, ErrValidation
	}
	attempt, err := e.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if attempt.OwnerID != memberID {
		return nil, repository.ErrAttemptNotFound
	}
	if attempt.State != model.AttemptPending {
		return alreadyProcessed(attempt), nil
	}
	if !e.gateway.VerifySignature(orderID, paymentID, signature) {
		if err := e.payments.MarkFailed(ctx, orderID, "signature_mismatch"); err != nil {
			// A concurrent call settled the attempt first; report its outcome.
			if errors.Is(err, repository.ErrAttemptSettled) {
				return e.reloadProcessed(ctx, orderID)
			}
			return nil, err
		}
		return nil, ErrInvalidSignature
	}
	return e.settle(ctx, attempt, paymentID, "gateway")
}

// SettleManual records an in-person (cash) payment collected by an
// administrator.  It follows the same ledger and seat-allocation steps as
// Verify but skips signature verification, entering directly at the
// funded-money step with the administrator as verifier of record.
func (e *Engine) SettleManual(ctx context.Context, adminID string, in OrderInput) (*VerifyResult, error) {
	if adminID == "" {
		return nil, ErrValidation
	}
	if err := validateOrderInput(&in); err != nil {
		return nil, err
	}
	if err := e.members.Ensure(ctx, in.MemberID); err != nil {
		return nil, fmt.Errorf("ensure member account: %w", err)
	}
	token, err := randomToken(12)
	if err != nil {
		return nil, err
	}
	attempt := &model.PaymentAttempt{
		OrderID:       "cash_" + token,
		OwnerID:       in.MemberID,
		AmountCents:   in.AmountCents,
		Currency:      e.currency,
		Purpose:       in.Purpose,
		MonthsCovered: in.Months,
		SeatNumber:    in.SeatNumber,
		Shift:         in.Shift,
	}
	if err := e.payments.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record cash attempt: %w", err)
	}
	return e.settle(ctx, attempt, "cash_"+token, adminID)
}

// WebhookEvent is the asynchronous notification payload delivered by the
// gateway.  Only the fields the engine consumes are modeled; anything
// else rides along in the raw body and is ignored.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Reason    string `json:"reason"`
	} `json:"payload"`
}

// HandleWebhook processes a gateway event whose body signature the
// transport layer has already validated.  payment.captured settles
// through the same idempotent path as Verify; payment.failed only
// affects attempts still Pending; unrecognized event types are accepted
// and ignored so new gateway events never break delivery.
func (e *Engine) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	switch ev.Event {
	case "payment.captured":
		attempt, err := e.payments.GetByOrderID(ctx, ev.Payload.OrderID)
		if err != nil {
			if errors.Is(err, repository.ErrAttemptNotFound) {
				e.log.Warn("webhook for unknown order", "order_id", ev.Payload.OrderID)
				return nil
			}
			return err
		}
		if attempt.State != model.AttemptPending {
			return nil // redelivery; already settled
		}
		_, err = e.settle(ctx, attempt, ev.Payload.PaymentID, "webhook")
		if errors.Is(err, repository.ErrAttemptSettled) {
			return nil
		}
		return err
	case "payment.failed":
		reason := ev.Payload.Reason
		if reason == "" {
			reason = "gateway_reported_failure"
		}
		err := e.payments.MarkFailed(ctx, ev.Payload.OrderID, reason)
		if errors.Is(err, repository.ErrAttemptSettled) || errors.Is(err, repository.ErrAttemptNotFound) {
			return nil // only Pending attempts are affected
		}
		return err
	default:
		return nil // forward compatible: accept and ignore
	}
}

// settle performs the coupled transaction: durable Pending->Verified and
// member credit first (funded money is recorded regardless of the seat
// outcome), then at most one seat ledger transition, then the outcome
// record and fan-out.  There is no rollback past the Verified edge; every
// later step is best-effort with explicit conflict reporting.
func (e *Engine) settle(ctx context.Context, attempt *model.PaymentAttempt, paymentID, verifiedBy string) (*VerifyResult, error) {
	receiptID, err := randomReceipt()
	if err != nil {
		return nil, err
	}
	if err := e.payments.MarkVerified(ctx, attempt.OrderID, paymentID, receiptID, verifiedBy); err != nil {
		if errors.Is(err, repository.ErrAttemptSettled) {
			return e.reloadProcessed(ctx, attempt.OrderID)
		}
		return nil, err
	}

	now := e.now()
	if err := e.members.ApplyPayment(ctx, attempt.OwnerID, receiptID, attempt.AmountCents, attempt.MonthsCovered, now); err != nil {
		// The payment is already durable; surface the account error but do
		// not lose the receipt.
		e.log.Error("member credit failed after verification",
			"order_id", attempt.OrderID, "member_id", attempt.OwnerID, "err", err)
	}

	result := &VerifyResult{
		Status:      StatusVerified,
		ReceiptID:   receiptID,
		SeatNumber:  attempt.SeatNumber,
		SeatOutcome: model.SeatNotAttempted,
	}
	if attempt.Purpose == model.PurposeSeatBooking && attempt.SeatNumber > 0 {
		result.SeatOutcome = e.allocateSeat(ctx, attempt, now)
	}

	attempt.State = model.AttemptVerified
	attempt.ReceiptID = receiptID
	attempt.GatewayPaymentID = paymentID
	attempt.VerifiedBy = verifiedBy
	attempt.SeatOutcome = result.SeatOutcome
	if e.notifier != nil {
		e.notifier.PaymentSettled(*attempt)
	}
	return result, nil
}

// extensionRetries bounds how often a settlement recomputes an extension
// whose pinned expiry moved under a concurrent settlement.  Each retry
// starts from a fresh read, so contention only ends in Conflicted when
// the seat genuinely changed hands.
const extensionRetries = 3

// allocateSeat performs the seat ledger transition for a settled payment
// and records the outcome on the attempt.  A lost race or missing seat
// yields Conflicted — the payment stays Verified and the conflict is
// surfaced for manual reconciliation, never silently swallowed.
func (e *Engine) allocateSeat(ctx context.Context, attempt *model.PaymentAttempt, now time.Time) model.SeatOutcome {
	requested := attempt.Shift
	if requested == "" {
		requested = model.ShiftFullDay
	}

	for try := 0; ; try++ {
		snapshot, err := e.seats.GetByNumber(ctx, attempt.SeatNumber)
		if err != nil {
			return e.recordOutcome(ctx, attempt.OrderID, model.SeatConflicted)
		}

		var expected repository.Expected
		shift := requested
		newExpiry := now.AddDate(0, attempt.MonthsCovered, 0)
		extension := snapshot.ActiveAt(now) && snapshot.OwnerID == attempt.OwnerID
		if extension {
			// Extension: the window grows from the current expiry.  The
			// guard pins both the owner and that expiry, so the arithmetic
			// is applied exactly on the state it was computed from; two
			// concurrent extensions each add their own paid months.
			expected = repository.Expected{Owner: attempt.OwnerID, ExpiresAt: snapshot.ExpiresAt}
			newExpiry = snapshot.ExpiresAt.AddDate(0, attempt.MonthsCovered, 0)
			if shift == model.ShiftFullDay && snapshot.Shift != "" {
				shift = snapshot.Shift
			}
		}

		err = e.seats.TryTransition(ctx, attempt.SeatNumber, expected, attempt.OwnerID, newExpiry, shift)
		switch {
		case err == nil:
			if err := e.members.AssignSeat(ctx, attempt.OwnerID, attempt.SeatNumber); err != nil {
				e.log.Error("seat reference update failed", "order_id", attempt.OrderID, "err", err)
			}
			outcome := e.recordOutcome(ctx, attempt.OrderID, model.SeatAllocated)
			if e.notifier != nil {
				seat := model.Seat{
					SeatNumber: attempt.SeatNumber,
					State:      model.SeatOccupied,
					OwnerID:    attempt.OwnerID,
					Shift:      shift,
					ExpiresAt:  &newExpiry,
				}
				e.notifier.SeatChanged(seat)
			}
			return outcome
		case errors.Is(err, repository.ErrSeatOccupied) && extension && try < extensionRetries:
			// The pinned expiry moved: a concurrent settlement extended
			// the same seat first.  Recompute from the fresh row.
			continue
		case errors.Is(err, repository.ErrSeatOccupied), errors.Is(err, repository.ErrSeatNotFound):
			e.log.Info("seat allocation conflicted",
				"order_id", attempt.OrderID, "seat", attempt.SeatNumber, "member_id", attempt.OwnerID)
			return e.recordOutcome(ctx, attempt.OrderID, model.SeatConflicted)
		default:
			// Infrastructure failure: the allocation was neither applied nor
			// rejected.  Leave NotAttempted so a later reconciliation can
			// resolve it from the recoverable (Verified, NotAttempted) state.
			e.log.Error("seat transition errored", "order_id", attempt.OrderID, "err", err)
			return model.SeatNotAttempted
		}
	}
}

func (e *Engine) recordOutcome(ctx context.Context, orderID string, outcome model.SeatOutcome) model.SeatOutcome {
	if err := e.payments.SetSeatOutcome(ctx, orderID, outcome); err != nil {
		e.log.Error("recording seat outcome failed", "order_id", orderID, "outcome", outcome, "err", err)
	}
	return outcome
}

// reloadProcessed re-reads an attempt that crossed the idempotency
// boundary concurrently and reports its terminal outcome.
func (e *Engine) reloadProcessed(ctx context.Context, orderID string) (*VerifyResult, error) {
	attempt, err := e.payments.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return alreadyProcessed(attempt), nil
}

func alreadyProcessed(a *model.PaymentAttempt) *VerifyResult {
	return &VerifyResult{
		Status:      StatusAlreadyProcessed,
		ReceiptID:   a.ReceiptID,
		SeatNumber:  a.SeatNumber,
		SeatOutcome: a.SeatOutcome,
	}
}

// validateOrderInput normalizes and validates a requested order in place.
// Fee renewals never carry a seat target; seat bookings default to the
// full-day window when the client omits a shift.
func validateOrderInput(in *OrderInput) error {
	if in.MemberID == "" || in.AmountCents <= 0 || in.Months < 1 {
		return ErrValidation
	}
	switch in.Purpose {
	case model.PurposeSeatBooking:
		if in.SeatNumber < 1 {
			return ErrValidation
		}
		if in.Shift == "" {
			in.Shift = model.ShiftFullDay
		}
		if !model.ValidShift(in.Shift) {
			return ErrValidation
		}
	case model.PurposeFeeRenewal:
		in.SeatNumber = 0
		in.Shift = ""
	default:
		return ErrValidation
	}
	return nil
}

// randomReceipt builds a receipt identifier for a verified payment.
func randomReceipt() (string, error) {
	t, err := randomToken(8)
	if err != nil {
		return "", err
	}
	return "rcpt_" + t, nil
}

// randomToken generates a random hexadecimal string of n*2 characters
// using crypto/rand.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
