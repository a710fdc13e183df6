package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/veribits/webhook-delivery/internal/database"
	"github.com/veribits/webhook-delivery/internal/rabbitmq"
)

// HealthHandler reports component health for the service's collaborators.
type HealthHandler struct {
	DB    *gorm.DB
	Redis *goredis.Client
	RMQ   *rabbitmq.Connection
}

func NewHealthHandler(db *gorm.DB, redis *goredis.Client, rmq *rabbitmq.Connection) *HealthHandler {
	return &HealthHandler{
		DB:    db,
		Redis: redis,
		RMQ:   rmq,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if err := h.Redis.Ping(ctx).Err(); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["redis"] = "healthy"
	}

	if h.RMQ == nil || !h.RMQ.IsHealthy() {
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	} else {
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}
	return c.JSON(response)
}
