// Package sweeper runs the periodic lifecycle pass: releasing seats whose
// expiry has elapsed, flagging overdue member accounts, pruning abandoned
// payment attempts and syncing the spreadsheet mirror.  Every duty is
// advisory cleanup over an already consistent ledger, so a failure on one
// record is logged and skipped, never allowed to abort the rest of the
// pass or the process.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
)

// SeatLedger is the sweeper's view of the seat store.
type SeatLedger interface {
	ListExpiredOccupied(ctx context.Context, now time.Time) ([]model.Seat, error)
	TryTransition(ctx context.Context, seatNumber int, expected repository.Expected, newOwner string, newExpiry time.Time, shift model.Shift) error
	GetByNumber(ctx context.Context, seatNumber int) (*model.Seat, error)
}

// MemberStore is the sweeper's view of the member account summaries.
type MemberStore interface {
	ClearSeat(ctx context.Context, memberID string, seatNumber int) error
	MarkOverdueBefore(ctx context.Context, now time.Time) (int64, error)
	ListDirty(ctx context.Context) ([]model.MemberAccount, error)
	ListAll(ctx context.Context) ([]model.MemberAccount, error)
	ClearDirty(ctx context.Context, synced []model.MemberAccount) error
}

// PaymentLedger is the sweeper's view of the payment attempt store.
type PaymentLedger interface {
	PruneStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// MirrorWriter renders account summaries to the dashboard workbook.
type MirrorWriter interface {
	WriteAccounts(accounts []model.MemberAccount) error
}

// Notifier fans out seat releases the sweeper applies.  Same contract as
// the settlement notifier: never errors, never blocks.
type Notifier interface {
	SeatChanged(seat model.Seat)
}

// Sweeper drives the lifecycle pass on a fixed interval.
type Sweeper struct {
	seats     SeatLedger
	members   MemberStore
	payments  PaymentLedger
	mirror    MirrorWriter
	notifier  Notifier
	log       *slog.Logger
	interval  time.Duration
	staleDays int
	now       func() time.Time
}

// New constructs a Sweeper.  mirror and notifier may be nil, which
// disables the corresponding duty.
func New(seats SeatLedger, members MemberStore, payments PaymentLedger, mirror MirrorWriter, notifier Notifier, log *slog.Logger, interval time.Duration, staleDays int) *Sweeper {
	if seats == nil || members == nil || payments == nil {
		panic("sweeper: nil ledger")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		seats:     seats,
		members:   members,
		payments:  payments,
		mirror:    mirror,
		notifier:  notifier,
		log:       log,
		interval:  interval,
		staleDays: staleDays,
		now:       time.Now,
	}
}

// Run blocks and executes one pass per interval until ctx is cancelled.
// A pass also runs immediately on start so a restarted process does not
// wait a full interval to catch up on expiries.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one full lifecycle pass.  Duties run in a fixed order;
// each tolerates failures of the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()
	s.expireSeats(ctx, now)
	s.markOverdue(ctx, now)
	s.pruneStale(ctx, now)
	s.syncMirror(ctx)
}

// expireSeats releases every seat whose occupancy window has elapsed.
// The release pins the expiry observed in the listing, so a seat renewed
// between the read and the write keeps its fresh booking: the guarded
// UPDATE matches nothing and the seat is simply skipped this pass.
func (s *Sweeper) expireSeats(ctx context.Context, now time.Time) {
	expired, err := s.seats.ListExpiredOccupied(ctx, now)
	if err != nil {
		s.log.Error("sweep: list expired seats", "error", err)
		return
	}
	for _, seat := range expired {
		if seat.ExpiresAt == nil {
			continue
		}
		expected := repository.Expected{Owner: seat.OwnerID, ExpiresAt: seat.ExpiresAt}
		err := s.seats.TryTransition(ctx, seat.SeatNumber, expected, "", time.Time{}, "")
		if errors.Is(err, repository.ErrSeatOccupied) {
			// Renewed or already released since we listed it.
			continue
		}
		if err != nil {
			s.log.Error("sweep: release seat", "seat", seat.SeatNumber, "error", err)
			continue
		}
		if err := s.members.ClearSeat(ctx, seat.OwnerID, seat.SeatNumber); err != nil {
			s.log.Error("sweep: clear member seat", "member", seat.OwnerID, "error", err)
		}
		s.log.Info("sweep: seat expired", "seat", seat.SeatNumber, "member", seat.OwnerID)
		if s.notifier != nil {
			if fresh, err := s.seats.GetByNumber(ctx, seat.SeatNumber); err == nil {
				s.notifier.SeatChanged(*fresh)
			}
		}
	}
}

// markOverdue flips accounts whose due date has passed to Overdue.
// Exempt accounts and accounts already Overdue are left alone by the
// store's guard.
func (s *Sweeper) markOverdue(ctx context.Context, now time.Time) {
	n, err := s.members.MarkOverdueBefore(ctx, now)
	if err != nil {
		s.log.Error("sweep: mark overdue", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("sweep: accounts marked overdue", "count", n)
	}
}

// pruneStale deletes Pending attempts old enough that the gateway will
// never complete them.  Verified and Failed attempts are audit history
// and are kept forever.
func (s *Sweeper) pruneStale(ctx context.Context, now time.Time) {
	cutoff := now.AddDate(0, 0, -s.staleDays)
	n, err := s.payments.PruneStalePending(ctx, cutoff)
	if err != nil {
		s.log.Error("sweep: prune stale attempts", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("sweep: stale attempts pruned", "count", n, "cutoff", cutoff)
	}
}

// syncMirror rewrites the dashboard workbook when any account changed
// since the last successful sync.  Dirty flags are cleared only after the
// save succeeded, and only for the rows as they were read: an account
// mutated mid-sync keeps its flag and is mirrored again next pass.
func (s *Sweeper) syncMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	dirty, err := s.members.ListDirty(ctx)
	if err != nil {
		s.log.Error("sweep: list dirty accounts", "error", err)
		return
	}
	if len(dirty) == 0 {
		return
	}
	all, err := s.members.ListAll(ctx)
	if err != nil {
		s.log.Error("sweep: list accounts", "error", err)
		return
	}
	if err := s.mirror.WriteAccounts(all); err != nil {
		s.log.Error("sweep: write mirror", "error", err)
		return
	}
	if err := s.members.ClearDirty(ctx, dirty); err != nil {
		s.log.Error("sweep: clear dirty flags", "error", err)
		return
	}
	s.log.Info("sweep: mirror synced", "accounts", len(all))
}
