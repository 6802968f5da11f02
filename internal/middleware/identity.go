package middleware // reusable HTTP middleware for the settlement API

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// ContextMemberID is the echo context key carrying the authenticated
// member's identifier.
const ContextMemberID = "member_id"

// MemberAuth returns an Echo middleware that validates a Bearer access
// token issued by the identity provider and injects the token's subject
// into the request context as the member ID.  The engine trusts the IdP
// for identity: any member the token names is accepted without a local
// lookup, and the account summary row is created lazily on first use.
func MemberAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token has no subject"})
			}

			c.Set(ContextMemberID, sub)
			return next(c)
		}
	}
}

// CurrentMemberID returns the authenticated member ID stored by
// MemberAuth, or the empty string on unauthenticated routes.
func CurrentMemberID(c echo.Context) string {
	if v, ok := c.Get(ContextMemberID).(string); ok {
		return v
	}
	return ""
}
