package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	JWTMiddleware  fiber.Handler
	// OptionalJWTMiddleware identifies callers without requiring a token.
	OptionalJWTMiddleware fiber.Handler
	// GradeRateLimit bounds grading requests per caller per minute. Zero disables it.
	GradeRateLimit int
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	optionalJWT := deps.OptionalJWTMiddleware
	if optionalJWT == nil {
		optionalJWT = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.GradingHandler == nil {
		return
	}

	gradeLimit := func(c *fiber.Ctx) error { return c.Next() }
	if deps.GradeRateLimit > 0 {
		gradeLimit = middleware.RateLimit("grade", deps.GradeRateLimit, time.Minute)
	}

	// Legacy per-language endpoints keep their original paths and anonymous access.
	deps.GradingHandler.RegisterLegacy(app.Group("/api"), optionalJWT, gradeLimit)

	grading := app.Group("/api/v2/grading", jwtMiddleware)
	deps.GradingHandler.Register(grading, gradeLimit)
}
