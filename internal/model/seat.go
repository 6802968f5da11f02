package model // model defines the domain types shared across layers

import "time"

// OccupancyState enumerates the lifecycle states of a seat.  A seat whose
// expiry has passed is logically available even while the stored state
// still reads Occupied; the sweeper (or the next booking attempt) observes
// the stale expiry and corrects the record.
type OccupancyState string

const (
	SeatAvailable       OccupancyState = "AVAILABLE"        // no active owner
	SeatOccupied        OccupancyState = "OCCUPIED"         // owned until ExpiresAt
	SeatExpiredOccupied OccupancyState = "EXPIRED_OCCUPIED" // expired but not yet swept
)

// Shift tags the usage window a seat is booked for.  The value is opaque
// to the ledger; it is stored and echoed back in snapshots.
type Shift string

const (
	ShiftMorning Shift = "MORNING"
	ShiftEvening Shift = "EVENING"
	ShiftFullDay Shift = "FULL_DAY"
)

// ValidShift reports whether s is one of the known usage windows.
func ValidShift(s Shift) bool {
	switch s {
	case ShiftMorning, ShiftEvening, ShiftFullDay:
		return true
	}
	return false
}

// Seat is the authoritative occupancy record for one physical seat.  Seats
// are identified by a small positive integer in a fixed universe 1..N and
// are created lazily on first reference.  At most one active ownership
// exists at a time: OccupancyState == Occupied and ExpiresAt in the future.
type Seat struct {
	SeatNumber int            `json:"seat_number"`
	State      OccupancyState `json:"occupancy_state"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Shift      Shift          `json:"shift,omitempty"`
	BookedAt   *time.Time     `json:"booked_at,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
}

// ActiveAt reports whether the seat has an active owner at the given
// instant.  A seat with a past expiry is treated as free regardless of
// its stored state.
func (s *Seat) ActiveAt(now time.Time) bool {
	return s.State == SeatOccupied && s.ExpiresAt != nil && s.ExpiresAt.After(now)
}

// SeatSpan is one entry of a seat's append-only occupancy history.  A span
// is opened when an allocation transition is applied and records who held
// the seat and for which window.
type SeatSpan struct {
	ID         uint64    `json:"id"`
	SeatNumber int       `json:"seat_number"`
	OwnerID    string    `json:"owner_id"`
	Shift      Shift     `json:"shift"`
	BookedAt   time.Time `json:"booked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	RecordedAt time.Time `json:"recorded_at"`
}
