package http

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/taskflow-auth/internal/api/http/handlers"
	"github.com/spec-kit/taskflow-auth/internal/auth"
	"github.com/spec-kit/taskflow-auth/internal/config"
)

// RoleAdmin gates operational endpoints.
const RoleAdmin = "ADMIN"

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health    *handlers.HealthHandler
	Auth      *handlers.AuthHandler
	Users     *handlers.UsersHandler
	Gate      *auth.AuthGate
	RateLimit config.RateLimitConfig
	Logger    *zap.Logger
}

// RegisterRoutes wires HTTP routes. The gate runs before every route and lets
// only its public paths through without a token.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(cfg.Gate.Handle)

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth", RateLimitByIP(cfg.RateLimit, cfg.Logger))
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/identify", cfg.Auth.Identify)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)

	userGroup := app.Group("/user", auth.RequireAuthority())
	userGroup.Get("/me", cfg.Users.Me)
	userGroup.Post("/updatePassword", cfg.Users.UpdatePassword)

	adminGroup := app.Group("/admin", auth.RequireAuthority(RoleAdmin))
	adminGroup.Get("/metrics", cfg.Health.Metrics)
}
