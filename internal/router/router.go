// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/vitalpoint/account-service/internal/config"
	"github.com/vitalpoint/account-service/internal/handler"
	"github.com/vitalpoint/account-service/internal/middleware"
	"github.com/vitalpoint/account-service/internal/token"
)

// RegisterRoutes registers unauthenticated infrastructure routes.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication and account endpoints. The
// credential endpoints under /v1/auth carry the Redis rate limiter;
// everything under /v1 requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, u *handler.UserHandler, issuer *token.Issuer, rl config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group("/v1/auth")
	g.Use(middleware.RateLimit(rl, rdb))
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout takes a refresh token in the body, so no access token needed:
	// a client whose access token already expired can still end its session.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.AccessAuth(issuer))
	auth.POST("/auth/logout-all", a.LogoutAll)
	auth.POST("/auth/change-password", a.ChangePassword)

	auth.GET("/me", u.Me)
	auth.PUT("/me", u.UpdateProfile)
	auth.DELETE("/me", u.Deactivate)
	auth.GET("/users", u.ListUsers)
	auth.GET("/users/search", u.SearchUsers)
	auth.GET("/users/:id", u.GetUser)
}
