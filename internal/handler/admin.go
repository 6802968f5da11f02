package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-seat-settlement/internal/middleware"
	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
)

// AdminHandler exposes the operator surface: recording in-person cash
// payments, force-releasing seats and listing conflicted settlements for
// reconciliation.
type AdminHandler struct {
	Engine   *settlement.Engine
	Payments *repository.PaymentRepo
	Seats    *repository.SeatRepo
	Members  *repository.MemberRepo
	Notifier settlement.Notifier
}

// NewAdminHandler constructs an AdminHandler.  notifier may be nil.
func NewAdminHandler(engine *settlement.Engine, payments *repository.PaymentRepo, seats *repository.SeatRepo, members *repository.MemberRepo, notifier settlement.Notifier) *AdminHandler {
	if engine == nil || payments == nil || seats == nil || members == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Engine: engine, Payments: payments, Seats: seats, Members: members, Notifier: notifier}
}

// SettleCash handles POST /v1/admin/settlements.  It records a cash
// payment collected at the desk and runs the same settlement path as
// gateway verification, with the operator as verifier of record.
func (h *AdminHandler) SettleCash(c echo.Context) error {
	adminID := middleware.CurrentAdminID(c)
	if adminID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		MemberID    string `json:"member_id"`
		AmountCents int64  `json:"amount_cents"`
		Purpose     string `json:"purpose"`
		Months      int    `json:"months"`
		SeatNumber  int    `json:"seat_number"`
		Shift       string `json:"shift"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	in := settlement.OrderInput{
		MemberID:    body.MemberID,
		AmountCents: body.AmountCents,
		Purpose:     model.Purpose(body.Purpose),
		Months:      body.Months,
		SeatNumber:  body.SeatNumber,
		Shift:       model.Shift(body.Shift),
	}
	res, err := h.Engine.SettleManual(c.Request().Context(), adminID, in)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, res)
	case errors.Is(err, settlement.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid settlement request"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "settlement failed"})
	}
}

// ReleaseSeat handles DELETE /v1/admin/seats/:number.  An operator
// override that releases a seat regardless of consent, typically after a
// conflicted settlement was resolved in the holder's favor elsewhere.
// The release still runs through the guarded transition against the
// observed owner, so a booking that lands mid-request wins and the
// override reports the conflict instead of clobbering it.
func (h *AdminHandler) ReleaseSeat(c echo.Context) error {
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
	if seat.OwnerID == "" {
		return c.JSON(http.StatusOK, echo.Map{"status": "already_available", "seat_number": number})
	}

	err = h.Seats.TryTransition(ctx, number, repository.Expected{Owner: seat.OwnerID}, "", time.Time{}, "")
	switch {
	case errors.Is(err, repository.ErrSeatOccupied):
		return c.JSON(http.StatusConflict, echo.Map{"error": "seat changed hands during release, retry"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to release seat"})
	}

	if err := h.Members.ClearSeat(ctx, seat.OwnerID, number); err != nil {
		c.Logger().Errorf("clear member seat reference: %v", err)
	}
	if h.Notifier != nil {
		if fresh, err := h.Seats.GetByNumber(ctx, number); err == nil {
			h.Notifier.SeatChanged(*fresh)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "released", "seat_number": number, "previous_owner": seat.OwnerID})
}

// Reconciliation handles GET /v1/admin/reconciliation and lists verified
// payments whose seat allocation conflicted.  These are the captured
// payments that need a manual decision (another seat or a refund outside
// this system).
func (h *AdminHandler) Reconciliation(c echo.Context) error {
	attempts, err := h.Payments.ListConflicted(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load conflicted settlements"})
	}
	return c.JSON(http.StatusOK, echo.Map{"conflicted": attempts, "count": len(attempts)})
}
