package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Runner      string    `json:"runner"`
	Probe       string    `json:"probe"`
	Storage     string    `json:"storage"`
}

// HealthCheck returns a handler that reports which grading backends are active.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Runner:      cfg.Grading.Runner,
			Probe:       cfg.Grading.Probe,
			Storage:     cfg.Storage.Backend,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
