package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
)

var errMockInfra = errors.New("mock infrastructure error")

// memSeats is an in-memory seat ledger with the same transition contract
// as the SQL repository: guard and mutation are applied atomically under
// one lock, a guard miss returns repository.ErrSeatOccupied.
type memSeats struct {
	mu        sync.Mutex
	seatCount int
	seats     map[int]*model.Seat
	failNext  error // forced infrastructure error on the next transition
}

func newMemSeats(seatCount int) *memSeats {
	return &memSeats{seatCount: seatCount, seats: make(map[int]*model.Seat)}
}

func (m *memSeats) snapshot(n int) *model.Seat {
	if s, ok := m.seats[n]; ok {
		cp := *s
		return &cp
	}
	return &model.Seat{SeatNumber: n, State: model.SeatAvailable}
}

func (m *memSeats) GetByNumber(_ context.Context, n int) (*model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 1 || n > m.seatCount {
		return nil, repository.ErrSeatNotFound
	}
	return m.snapshot(n), nil
}

func (m *memSeats) TryTransition(_ context.Context, n int, expected repository.Expected, newOwner string, newExpiry time.Time, shift model.Shift) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if n < 1 || n > m.seatCount {
		return repository.ErrSeatNotFound
	}
	now := time.Now().UTC()
	cur := m.snapshot(n)
	active := cur.State == model.SeatOccupied && cur.ExpiresAt != nil && cur.ExpiresAt.After(now)

	switch {
	case newOwner == "":
		if !active || cur.OwnerID != expected.Owner {
			return repository.ErrSeatOccupied
		}
		if expected.ExpiresAt != nil && !expected.ExpiresAt.Equal(*cur.ExpiresAt) {
			return repository.ErrSeatOccupied
		}
		m.seats[n] = &model.Seat{SeatNumber: n, State: model.SeatAvailable}
	case expected.Owner != "":
		if !active || cur.OwnerID != expected.Owner {
			return repository.ErrSeatOccupied
		}
		if expected.ExpiresAt != nil && !expected.ExpiresAt.Equal(*cur.ExpiresAt) {
			return repository.ErrSeatOccupied
		}
		cur.Shift = shift
		cur.ExpiresAt = &newExpiry
		m.seats[n] = cur
	default:
		if active {
			return repository.ErrSeatOccupied
		}
		booked := now
		m.seats[n] = &model.Seat{
			SeatNumber: n,
			State:      model.SeatOccupied,
			OwnerID:    newOwner,
			Shift:      shift,
			BookedAt:   &booked,
			ExpiresAt:  &newExpiry,
		}
	}
	return nil
}

// occupy seeds a seat directly, bypassing the transition guard.
func (m *memSeats) occupy(n int, owner string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	booked := time.Now().UTC()
	m.seats[n] = &model.Seat{
		SeatNumber: n,
		State:      model.SeatOccupied,
		OwnerID:    owner,
		Shift:      model.ShiftFullDay,
		BookedAt:   &booked,
		ExpiresAt:  &until,
	}
}

// memPayments mirrors the conditional-update contract of the payment
// attempt repository.
type memPayments struct {
	mu       sync.Mutex
	attempts map[string]*model.PaymentAttempt
}

func newMemPayments() *memPayments {
	return &memPayments{attempts: make(map[string]*model.PaymentAttempt)}
}

func (m *memPayments) Create(_ context.Context, a *model.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.attempts[a.OrderID]; exists {
		return fmt.Errorf("duplicate order %s", a.OrderID)
	}
	cp := *a
	cp.State = model.AttemptPending
	cp.SeatOutcome = model.SeatNotAttempted
	cp.CreatedAt = time.Now().UTC()
	m.attempts[a.OrderID] = &cp
	return nil
}

func (m *memPayments) GetByOrderID(_ context.Context, orderID string) (*model.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[orderID]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memPayments) MarkVerified(_ context.Context, orderID, gatewayPaymentID, receiptID, verifiedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[orderID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	if a.State != model.AttemptPending {
		return repository.ErrAttemptSettled
	}
	now := time.Now().UTC()
	a.State = model.AttemptVerified
	a.GatewayPaymentID = gatewayPaymentID
	a.ReceiptID = receiptID
	a.VerifiedBy = verifiedBy
	a.SettledAt = &now
	return nil
}

func (m *memPayments) MarkFailed(_ context.Context, orderID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[orderID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	if a.State != model.AttemptPending {
		return repository.ErrAttemptSettled
	}
	now := time.Now().UTC()
	a.State = model.AttemptFailed
	a.FailureReason = reason
	a.SettledAt = &now
	return nil
}

func (m *memPayments) SetSeatOutcome(_ context.Context, orderID string, outcome model.SeatOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[orderID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	if a.State != model.AttemptVerified {
		return repository.ErrAttemptNotFound
	}
	a.SeatOutcome = outcome
	return nil
}

// memMembers records account-side effects for assertions.
type memMembers struct {
	mu       sync.Mutex
	ensured  map[string]bool
	credits  map[string][]string // member -> receipt IDs applied
	seats    map[string]int
	applyErr error
}

func newMemMembers() *memMembers {
	return &memMembers{
		ensured: make(map[string]bool),
		credits: make(map[string][]string),
		seats:   make(map[string]int),
	}
}

func (m *memMembers) Ensure(_ context.Context, memberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured[memberID] = true
	return nil
}

func (m *memMembers) ApplyPayment(_ context.Context, memberID, receiptID string, _ int64, _ int, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return m.applyErr
	}
	m.credits[memberID] = append(m.credits[memberID], receiptID)
	return nil
}

func (m *memMembers) AssignSeat(_ context.Context, memberID string, seatNumber int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seats[memberID] = seatNumber
	return nil
}

func (m *memMembers) creditCount(memberID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.credits[memberID])
}

// mockGateway issues sequential order IDs and accepts the signature
// "valid" for every assertion.
type mockGateway struct {
	mu        sync.Mutex
	orders    int
	createErr error
}

func (g *mockGateway) CreateOrder(_ context.Context, _ int64, _ string, _ map[string]string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.orders++
	return fmt.Sprintf("order_%d", g.orders), nil
}

func (g *mockGateway) VerifySignature(_, _, signature string) bool { return signature == "valid" }

func (g *mockGateway) KeyID() string { return "key_test" }

// recordingNotifier captures fan-out calls.
type recordingNotifier struct {
	mu       sync.Mutex
	seats    []model.Seat
	payments []model.PaymentAttempt
}

func (n *recordingNotifier) SeatChanged(s model.Seat) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seats = append(n.seats, s)
}

func (n *recordingNotifier) PaymentSettled(a model.PaymentAttempt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, a)
}
