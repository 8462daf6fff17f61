package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Check pings one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	flags  map[string]bool
}

// NewHealthHandler reports checks as "ok"/"error" and flags as
// "configured"/"not configured".
func NewHealthHandler(checks map[string]Check, flags map[string]bool) *HealthHandler {
	return &HealthHandler{checks: checks, flags: flags}
}

// Health handles GET /health. Any failing check turns the response into a 503.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := fiber.StatusOK
	deps := make(fiber.Map, len(h.checks)+len(h.flags))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = "error"
			status = fiber.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	for name, on := range h.flags {
		if on {
			deps[name] = "configured"
		} else {
			deps[name] = "not configured"
		}
	}

	overall := "ok"
	if status != fiber.StatusOK {
		overall = "degraded"
	}
	return c.Status(status).JSON(fiber.Map{"status": overall, "dependencies": deps})
}
