package router // router wires HTTP routes to their handlers and middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/library-seat-settlement/internal/config"
	"github.com/iliyamo/library-seat-settlement/internal/fanout"
	"github.com/iliyamo/library-seat-settlement/internal/handler"
	"github.com/iliyamo/library-seat-settlement/internal/middleware"
)

// Handlers bundles every handler the router mounts.
type Handlers struct {
	Payments *handler.PaymentHandler
	Webhook  *handler.WebhookHandler
	Seats    *handler.SeatHandler
	Members  *handler.MemberHandler
	Admin    *handler.AdminHandler
	Hub      *fanout.Hub
}

// Register mounts all routes on the Echo instance.
//
// Public surface: health, seat snapshots and the seat WebSocket feed are
// readable without a token; the gateway webhook authenticates by body
// HMAC instead of a bearer token.  Member surface: order creation,
// verification, seat release and the account view require a valid access
// token from the identity provider.  Admin surface: cash settlement and
// reconciliation require the operator key.
func Register(e *echo.Echo, cfg *config.Config, rdb *redis.Client, h Handlers) {
	e.GET("/healthz", handler.Health)

	e.GET("/v1/seats", h.Seats.List)
	e.GET("/v1/seats/:number", h.Seats.Get)
	e.GET("/v1/ws/seats", h.Hub.ServeWS)
	e.POST("/v1/payments/webhook", h.Webhook.Receive)

	member := e.Group("/v1")
	member.Use(middleware.MemberAuth(cfg.JWTSecret))
	member.Use(middleware.RateLimit(rdb, cfg.RateLimitPerMinute))
	member.POST("/payments/order", h.Payments.CreateOrder)
	member.POST("/payments/verify", h.Payments.Verify)
	member.DELETE("/seats/:number", h.Seats.Release)
	member.GET("/me/account", h.Members.Account)

	admin := e.Group("/v1/admin")
	admin.Use(middleware.AdminKey(cfg.AdminKeyHash))
	admin.POST("/settlements", h.Admin.SettleCash)
	admin.DELETE("/seats/:number", h.Admin.ReleaseSeat)
	admin.GET("/reconciliation", h.Admin.Reconciliation)
}
