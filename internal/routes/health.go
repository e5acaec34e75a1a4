package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/credora/credora/internal/credit"
)

const (
	serviceName    = "Credora AI Credit Scoring API"
	serviceVersion = "1.0.0"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps, svc *credit.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		st := svc.Status()
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   serviceName,
			"version":   serviceVersion,
			"mode":      svc.Mode(),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"pipeline": fiber.Map{
				"connected":   st.PipelineConnected,
				"subscribers": st.SubscriberCount,
			},
		})
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "disabled"
		redisStatus := "disabled"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			dbStatus = "ok"
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			redisStatus = "ok"
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}
		pipeline := "ok"
		if !svc.Status().PipelineConnected {
			pipeline = "disconnected"
		}
		status := http.StatusOK
		if !healthy(dbStatus) || !healthy(redisStatus) || pipeline != "ok" {
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus, "pipeline": pipeline},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func healthy(s string) bool { return s == "ok" || s == "disabled" }
