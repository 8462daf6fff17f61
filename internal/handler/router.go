package handler

import (
	"context"

	ws "github.com/beacon/pipeline/internal/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Routes collects what the HTTP API serves.
type Routes struct {
	Scan   *ScanHandler
	Health *HealthHandler
	// Hub is optional; without it the websocket route is not mounted.
	Hub *ws.Hub
	// Auth guards /api. Nil leaves the API open.
	Auth fiber.Handler
	// ScanLimit is applied to submissions. Nil disables it.
	ScanLimit fiber.Handler
	AccessLog bool
}

// NewApp builds the fiber app with every route mounted.
func NewApp(r Routes) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler,
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if r.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", r.Health.Health)

	// Polled by dashboards with only the status id.
	app.Get("/jobs/:statusId/status", r.Scan.Status)

	api := app.Group("/api")
	if r.Auth != nil {
		api.Use(r.Auth)
	}
	submit := []fiber.Handler{r.Scan.Submit}
	if r.ScanLimit != nil {
		submit = append([]fiber.Handler{r.ScanLimit}, submit...)
	}
	api.Post("/scans", submit...)
	api.Get("/scans/:jobId", r.Scan.Job)
	api.Get("/screenshots/*", r.Scan.Screenshot)

	if r.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/jobs/:statusId", websocket.New(func(c *websocket.Conn) {
			r.Hub.Serve(context.Background(), c, c.Params("statusId"))
		}))
	}

	return app
}
