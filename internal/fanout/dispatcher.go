package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/queue"
)

// SeatCacheKey is the Redis key under which the full seat snapshot is
// cached.  The dispatcher invalidates it on every occupancy change so
// readers never see a stale layout longer than one transition.
const SeatCacheKey = "seats:snapshot"

// Dispatcher implements settlement.Notifier.  Each notification fans out
// to three best-effort sinks: the websocket hub, the message broker and
// the Redis snapshot cache.  Broker publishes run in their own goroutine
// because dialing may block; hub writes and cache deletes are cheap and
// run inline.  Errors are logged, never propagated.
type Dispatcher struct {
	hub *Hub
	rdb *redis.Client // may be nil when Redis is unavailable
	log *slog.Logger
}

// NewDispatcher wires the fan-out sinks.  hub and rdb may each be nil to
// disable the corresponding sink.
func NewDispatcher(hub *Hub, rdb *redis.Client, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{hub: hub, rdb: rdb, log: log}
}

// SeatChanged broadcasts a seat occupancy change and drops the cached
// snapshot.
func (d *Dispatcher) SeatChanged(seat model.Seat) {
	ev := queue.SeatOccupancyChangedEvent{
		SeatNumber: seat.SeatNumber,
		State:      string(seat.State),
		OwnerID:    seat.OwnerID,
		Shift:      string(seat.Shift),
		ChangedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if seat.ExpiresAt != nil {
		ev.ExpiresAt = seat.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if d.hub != nil {
		if payload, err := json.Marshal(ev); err == nil {
			d.hub.Broadcast(payload)
		}
	}
	if d.rdb != nil {
		if err := d.rdb.Del(context.Background(), SeatCacheKey).Err(); err != nil {
			d.log.Warn("seat cache invalidation failed", "err", err)
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Publish(ctx, queue.SeatEventsQueue, ev); err != nil {
			d.log.Warn("seat event publish failed", "seat", ev.SeatNumber, "err", err)
		}
	}()
}

// PaymentSettled publishes the audit event for a settled payment.
func (d *Dispatcher) PaymentSettled(a model.PaymentAttempt) {
	ev := queue.PaymentSettledEvent{
		OrderID:     a.OrderID,
		ReceiptID:   a.ReceiptID,
		MemberID:    a.OwnerID,
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
		Purpose:     string(a.Purpose),
		SeatNumber:  a.SeatNumber,
		SeatOutcome: string(a.SeatOutcome),
		VerifiedBy:  a.VerifiedBy,
		SettledAt:   time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := queue.Publish(ctx, queue.SettlementAuditQueue, ev); err != nil {
			d.log.Warn("audit event publish failed", "order_id", ev.OrderID, "err", err)
		}
	}()
}
