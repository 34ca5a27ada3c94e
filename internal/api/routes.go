package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/market-index/internal/health"
)

// HealthChecker reports store connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes wires the service endpoints. nc and checker may be nil.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st HealthChecker, checker *health.Checker, handler *IndexHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := st.HealthCheck(healthCtx); err != nil {
			checks["store"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// Data health: freshness and constituent consistency
	app.Get("/health/data", func(c *fiber.Ctx) error {
		if checker == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "data health check not configured"})
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rep := checker.Run(ctx)
		code := fiber.StatusOK
		if !rep.Healthy {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(rep)
	})

	// API routes
	v1 := app.Group("/api/v1")
	v1.Get("/indexes", handler.ListIndexes)
	v1.Get("/indexes/:code/values", handler.GetValues)
	v1.Get("/indexes/:code/constituents", handler.GetConstituents)
	v1.Get("/indexes/:code/runs", handler.GetRuns)
	v1.Post("/indexes/:code/dry-run", handler.DryRun)
}
