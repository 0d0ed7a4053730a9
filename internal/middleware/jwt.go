package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vitalpoint/account-service/internal/token"
)

// AccessAuth validates a Bearer access token and stores the authenticated
// user id in the request context. Signature, expiry and the access/refresh
// discriminator are all checked by the issuer; a refresh token presented
// here is rejected the same as a forged one.
func AccessAuth(issuer *token.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := issuer.Verify(strings.TrimPrefix(auth, "Bearer "), token.Access)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set("user_id", claims.UserID)
			return next(c)
		}
	}
}

// UserID extracts the authenticated user id set by AccessAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get("user_id").(uint64)
	return id, ok
}
