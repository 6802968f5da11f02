package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-seat-settlement/internal/fanout"
	"github.com/iliyamo/library-seat-settlement/internal/middleware"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
)

// SeatHandler exposes seat snapshots, per-seat history and voluntary
// release.  The full snapshot is served from a short-lived redis cache
// that allocation fan-out invalidates, so readers polling the seat map
// do not hammer the ledger between changes.
type SeatHandler struct {
	Seats    *repository.SeatRepo
	Members  *repository.MemberRepo
	Notifier settlement.Notifier
	Cache    *redis.Client
	CacheTTL time.Duration
}

// NewSeatHandler constructs a SeatHandler.  cache and notifier may be
// nil, which disables snapshot caching and fan-out respectively.
func NewSeatHandler(seats *repository.SeatRepo, members *repository.MemberRepo, notifier settlement.Notifier, cache *redis.Client, cacheTTL time.Duration) *SeatHandler {
	if seats == nil || members == nil {
		panic("nil repository passed to NewSeatHandler")
	}
	return &SeatHandler{Seats: seats, Members: members, Notifier: notifier, Cache: cache, CacheTTL: cacheTTL}
}

// List handles GET /v1/seats and returns the occupancy snapshot of the
// whole seat universe.
func (h *SeatHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if h.Cache != nil {
		if cached, err := h.Cache.Get(ctx, fanout.SeatCacheKey).Bytes(); err == nil {
			return c.JSONBlob(http.StatusOK, cached)
		}
	}

	seats, err := h.Seats.ListAll(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seats"})
	}
	payload, err := json.Marshal(echo.Map{"seats": seats})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to encode seats"})
	}
	if h.Cache != nil {
		h.Cache.Set(ctx, fanout.SeatCacheKey, payload, h.CacheTTL)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// Get handles GET /v1/seats/:number and returns one seat with its recent
// occupancy history.
func (h *SeatHandler) Get(c echo.Context) error {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat number"})
	}
	ctx := c.Request().Context()
	seat, err := h.Seats.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrSeatNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seat"})
	}
	history, err := h.Seats.History(ctx, number, 20)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seat history"})
	}
	return c.JSON(http.StatusOK, echo.Map{"seat": seat, "history": history})
}

// Release handles DELETE /v1/seats/:number.  A member may give up their
// own active seat before expiry; no refund is implied.  The release is
// the same guarded transition the sweeper uses, so it only applies while
// the caller is still the active owner.
func (h *SeatHandler) Release(c echo.Context) error {
	memberID := middleware.CurrentMemberID(c)
	if memberID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid seat number"})
	}

	ctx := c.Request().Context()
	err = h.Seats.TryTransition(ctx, number, repository.Expected{Owner: memberID}, "", time.Time{}, "")
	switch {
	case errors.Is(err, repository.ErrSeatNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	case errors.Is(err, repository.ErrSeatOccupied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "seat is not held by you"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seat"})
	}

	if err := h.Members.ClearSeat(ctx, memberID, number); err != nil {
		c.Logger().Errorf("clear member seat reference: %v", err)
	}
	if h.Notifier != nil {
		if seat, err := h.Seats.GetByNumber(ctx, number); err == nil {
			h.Notifier.SeatChanged(*seat)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "released", "seat_number": number})
}
