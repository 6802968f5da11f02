package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-seat-settlement/internal/gateway"
	"github.com/iliyamo/library-seat-settlement/internal/settlement"
)

// WebhookHandler receives the gateway's asynchronous delivery channel.
// The route carries no bearer token; authenticity comes from the HMAC
// over the raw body, checked before the payload is even parsed.
type WebhookHandler struct {
	Engine  *settlement.Engine
	Gateway *gateway.Client
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(engine *settlement.Engine, gw *gateway.Client) *WebhookHandler {
	if engine == nil || gw == nil {
		panic("nil dependency passed to NewWebhookHandler")
	}
	return &WebhookHandler{Engine: engine, Gateway: gw}
}

// Receive handles POST /v1/payments/webhook.  Processing errors return a
// 5xx so the gateway redelivers; redeliveries of already-settled events
// are absorbed by the engine's idempotency boundary and acknowledged.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable body"})
	}
	sig := c.Request().Header.Get("X-Webhook-Signature")
	if !h.Gateway.VerifyWebhook(body, sig) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid webhook signature"})
	}

	var ev settlement.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "malformed event"})
	}
	if err := h.Engine.HandleWebhook(c.Request().Context(), ev); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "event processing failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
