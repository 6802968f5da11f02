package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-seat-settlement/internal/gateway"
	"github.com/iliyamo/library-seat-settlement/internal/middleware"
	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
)

// Minimal in-memory ledgers backing a real engine, so handler tests cover
// the full request path without a database.

type stubSeats struct {
	mu    sync.Mutex
	seats map[int]model.Seat
}

func (s *stubSeats) GetByNumber(_ context.Context, n int) (*model.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > 50 {
		return nil, repository.ErrSeatNotFound
	}
	if seat, ok := s.seats[n]; ok {
		return &seat, nil
	}
	return &model.Seat{SeatNumber: n, State: model.SeatAvailable}, nil
}

func (s *stubSeats) TryTransition(_ context.Context, n int, _ repository.Expected, newOwner string, newExpiry time.Time, shift model.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.seats[n]; ok && cur.State == model.SeatOccupied && cur.OwnerID != newOwner {
		return repository.ErrSeatOccupied
	}
	s.seats[n] = model.Seat{SeatNumber: n, State: model.SeatOccupied, OwnerID: newOwner, Shift: shift, ExpiresAt: &newExpiry}
	return nil
}

type stubPayments struct {
	mu       sync.Mutex
	attempts map[string]*model.PaymentAttempt
}

func (p *stubPayments) Create(_ context.Context, a *model.PaymentAttempt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *a
	cp.State = model.AttemptPending
	cp.SeatOutcome = model.SeatNotAttempted
	p.attempts[a.OrderID] = &cp
	return nil
}

func (p *stubPayments) GetByOrderID(_ context.Context, orderID string) (*model.PaymentAttempt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.attempts[orderID]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	cp := *a
	return &cp, nil
}

func (p *stubPayments) MarkVerified(_ context.Context, orderID, paymentID, receiptID, verifiedBy string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.attempts[orderID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	if a.State != model.AttemptPending {
		return repository.ErrAttemptSettled
	}
	a.State = model.AttemptVerified
	a.GatewayPaymentID = paymentID
	a.ReceiptID = receiptID
	a.VerifiedBy = verifiedBy
	return nil
}

func (p *stubPayments) MarkFailed(_ context.Context, orderID, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.attempts[orderID]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	if a.State != model.AttemptPending {
		return repository.ErrAttemptSettled
	}
	a.State = model.AttemptFailed
	a.FailureReason = reason
	return nil
}

func (p *stubPayments) SetSeatOutcome(_ context.Context, orderID string, outcome model.SeatOutcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.attempts[orderID]; ok {
		a.SeatOutcome = outcome
	}
	return nil
}

type stubMembers struct{}

func (stubMembers) Ensure(context.Context, string) error { return nil }
func (stubMembers) ApplyPayment(context.Context, string, string, int64, int, time.Time) error {
	return nil
}
func (stubMembers) AssignSeat(context.Context, string, int) error { return nil }

const (
	apiSecret  = "api-secret"
	hookSecret = "hook-secret"
)

type testEnv struct {
	payments *stubPayments
	gw       *gateway.Client
	engine   *settlement.Engine
}

func newTestEnv() *testEnv {
	payments := &stubPayments{attempts: make(map[string]*model.PaymentAttempt)}
	gw := gateway.NewClient("http://unused", "key_1", apiSecret, hookSecret)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := settlement.NewEngine(&stubSeats{seats: make(map[int]model.Seat)}, payments, stubMembers{}, gw, nil, "INR", log)
	return &testEnv{payments: payments, gw: gw, engine: engine}
}

func (env *testEnv) seedPending(orderID string, seat int) {
	env.payments.attempts[orderID] = &model.PaymentAttempt{
		OrderID:     orderID,
		OwnerID:     "m1",
		AmountCents: 50000,
		Purpose:     model.PurposeSeatBooking,
		SeatNumber:  seat,
		State:       model.AttemptPending,
		SeatOutcome: model.SeatNotAttempted,
	}
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv()
	h := NewWebhookHandler(env.engine, env.gw)

	body := `{"event":"payment.captured","payload":{"order_id":"order_1","payment_id":"pay_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", "forged")
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	if err := h.Receive(c); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestWebhookSettlesCapturedEvent(t *testing.T) {
	env := newTestEnv()
	env.seedPending("order_1", 7)
	h := NewWebhookHandler(env.engine, env.gw)

	body := `{"event":"payment.captured","payload":{"order_id":"order_1","payment_id":"pay_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(body))
	req.Header.Set("X-Webhook-Signature", sign(hookSecret, body))
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	if err := h.Receive(c); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}

	attempt, _ := env.payments.GetByOrderID(context.Background(), "order_1")
	if attempt.State != model.AttemptVerified || attempt.VerifiedBy != "webhook" {
		t.Fatalf("attempt = %+v, want verified by webhook", attempt)
	}
}

func verifyRequest(t *testing.T, env *testEnv, orderID, paymentID, signature string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{
		"order_id":   orderID,
		"payment_id": paymentID,
		"signature":  signature,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/verify", strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set(middleware.ContextMemberID, "m1")

	h := NewPaymentHandler(env.engine)
	if err := h.Verify(c); err != nil {
		t.Fatalf("Verify handler: %v", err)
	}
	return rec
}

func TestVerifyHandlerSuccess(t *testing.T) {
	env := newTestEnv()
	env.seedPending("order_1", 7)

	rec := verifyRequest(t, env, "order_1", "pay_1", sign(apiSecret, "order_1|pay_1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}

	var res settlement.VerifyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Status != settlement.StatusVerified || res.SeatOutcome != model.SeatAllocated {
		t.Fatalf("result = %+v", res)
	}
}

func TestVerifyHandlerErrorMapping(t *testing.T) {
	env := newTestEnv()
	env.seedPending("order_1", 7)
	env.seedPending("order_2", 8)
	// Owned by a different member than the authenticated "m1".
	env.payments.attempts["order_9"] = &model.PaymentAttempt{
		OrderID:     "order_9",
		OwnerID:     "m2",
		AmountCents: 50000,
		Purpose:     model.PurposeSeatBooking,
		SeatNumber:  9,
		State:       model.AttemptPending,
		SeatOutcome: model.SeatNotAttempted,
	}

	cases := []struct {
		name      string
		orderID   string
		signature string
		want      int
	}{
		{"unknown order", "order_missing", sign(apiSecret, "order_missing|pay_1"), http.StatusNotFound},
		{"bad signature", "order_1", "forged", http.StatusBadRequest},
		{"missing ids", "", "x", http.StatusBadRequest},
		{"someone else's order", "order_9", sign(apiSecret, "order_9|pay_4"), http.StatusNotFound},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := verifyRequest(t, env, tc.orderID, fmt.Sprintf("pay_%d", i+1), tc.signature)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}
