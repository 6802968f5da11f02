package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-seat-settlement/internal/middleware"
	"github.com/iliyamo/library-seat-settlement/internal/repository"
)

// MemberHandler exposes the authenticated member's own account summary.
type MemberHandler struct {
	Members *repository.MemberRepo
}

// NewMemberHandler constructs a MemberHandler.
func NewMemberHandler(members *repository.MemberRepo) *MemberHandler {
	if members == nil {
		panic("nil repository passed to NewMemberHandler")
	}
	return &MemberHandler{Members: members}
}

// Account handles GET /v1/me/account.  Members who never transacted get
// a zero-state summary rather than a 404; the row is created on demand.
func (h *MemberHandler) Account(c echo.Context) error {
	memberID := middleware.CurrentMemberID(c)
	if memberID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	account, err := h.Members.Get(ctx, memberID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		if err := h.Members.Ensure(ctx, memberID); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load account"})
		}
		account, err = h.Members.Get(ctx, memberID)
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load account"})
	}
	payments, err := h.Members.Payments(ctx, memberID, 20)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load payment history"})
	}
	return c.JSON(http.StatusOK, echo.Map{"account": account, "payments": payments})
}
