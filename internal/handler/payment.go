package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-seat-settlement/internal/gateway"
	"github.com/iliyamo/library-seat-settlement/internal/middleware"
	"github.com/iliyamo/library-seat-settlement/internal/model"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
)

// PaymentHandler exposes order creation and payment verification.  Both
// routes run on behalf of the authenticated member; the member identity
// comes from the context set by MemberAuth, never from the request body.
type PaymentHandler struct {
	Engine *settlement.Engine
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(engine *settlement.Engine) *PaymentHandler {
	if engine == nil {
		panic("nil engine passed to NewPaymentHandler")
	}
	return &PaymentHandler{Engine: engine}
}

// CreateOrder handles POST /v1/payments/order.  It creates a gateway
// order for a fee renewal or seat booking and records the Pending
// attempt.  The response carries the order ID, amount and gateway key ID
// the client needs to open checkout.
func (h *PaymentHandler) CreateOrder(c echo.Context) error {
	memberID := middleware.CurrentMemberID(c)
	if memberID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
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
		MemberID:    memberID,
		AmountCents: body.AmountCents,
		Purpose:     model.Purpose(body.Purpose),
		Months:      body.Months,
		SeatNumber:  body.SeatNumber,
		Shift:       model.Shift(body.Shift),
	}
	res, err := h.Engine.CreateOrder(c.Request().Context(), in)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, res)
	case errors.Is(err, settlement.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid order request"})
	case errors.Is(err, repository.ErrSeatNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "seat not found"})
	case errors.Is(err, gateway.ErrUnavailable):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "payment gateway unavailable"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create order"})
	}
}

// Verify handles POST /v1/payments/verify.  The client posts the
// gateway's assertion triple after in-browser payment completion.  A
// valid assertion settles the payment; the seat allocation outcome is a
// field of the 200 response, never an HTTP error, because a lost seat
// race still leaves the payment captured.  Replays return the original
// receipt with status ALREADY_PROCESSED.  Only the member who placed
// the order may verify it; anyone else sees 404.
func (h *PaymentHandler) Verify(c echo.Context) error {
	memberID := middleware.CurrentMemberID(c)
	if memberID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		OrderID   string `json:"order_id"`
		PaymentID string `json:"payment_id"`
		Signature string `json:"signature"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	res, err := h.Engine.Verify(c.Request().Context(), memberID, body.OrderID, body.PaymentID, body.Signature)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, settlement.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order_id and payment_id are required"})
	case errors.Is(err, repository.ErrAttemptNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown order"})
	case errors.Is(err, settlement.ErrInvalidSignature):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "signature verification failed"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "verification failed"})
	}
}
