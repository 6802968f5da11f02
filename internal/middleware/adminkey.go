package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// ContextAdminID is the echo context key carrying the operator label for
// admin routes.  Manual settlements record it as the verifier.
const ContextAdminID = "admin_id"

// AdminKey returns an Echo middleware that protects operator routes with
// a shared key delivered in the X-Admin-Key header.  Only the bcrypt hash
// of the key is configured on the server.  An empty hash disables the
// admin surface entirely: every request is rejected rather than silently
// allowed through.
func AdminKey(keyHash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if keyHash == "" {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin access disabled"})
			}
			key := c.Request().Header.Get("X-Admin-Key")
			if key == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing admin key"})
			}
			if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(key)); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid admin key"})
			}
			c.Set(ContextAdminID, "admin")
			return next(c)
		}
	}
}

// CurrentAdminID returns the operator label stored by AdminKey.
func CurrentAdminID(c echo.Context) string {
	if v, ok := c.Get(ContextAdminID).(string); ok {
		return v
	}
	return ""
}
