package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veribits/webhook-delivery/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, webhookHandler *handlers.WebhookHandler, healthHandler *handlers.HealthHandler) {
	app.Get("/health", healthHandler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	{
		api.Post("/webhooks", webhookHandler.Register)
		api.Get("/webhooks", webhookHandler.List)
		api.Delete("/webhooks/:id", webhookHandler.Disable)
		api.Get("/webhooks/:id/stats", webhookHandler.Stats)
		api.Get("/webhooks/:id/deliveries", webhookHandler.Deliveries)

		api.Post("/events", webhookHandler.Publish)
	}
}
