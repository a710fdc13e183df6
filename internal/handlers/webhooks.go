package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/fanout"
	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/store"
)

// WebhookHandler exposes the registration-facing operations: register,
// list, disable, stats, the delivery audit trail, and event publication.
type WebhookHandler struct {
	Registry      *registry.Registry
	Publisher     *fanout.Publisher
	DeliveryStore store.DeliveryStore
	Logger        *zap.Logger
}

func NewWebhookHandler(reg *registry.Registry, publisher *fanout.Publisher, deliveries store.DeliveryStore, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Registry:      reg,
		Publisher:     publisher,
		DeliveryStore: deliveries,
		Logger:        logger,
	}
}

type registerRequest struct {
	OwnerID string   `json:"owner_id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
}

// registerResponse is the only place a webhook secret is ever exposed.
type registerResponse struct {
	ID        string   `json:"id"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at"`
}

// Register handles POST /api/v1/webhooks
func (h *WebhookHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner_id must be a valid UUID",
		})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url is required",
		})
	}

	webhook, err := h.Registry.Register(c.Context(), ownerID, req.URL, req.Events)
	if err != nil {
		var validationErr *registry.ValidationError
		if errors.As(err, &validationErr) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": validationErr.Error(),
			})
		}
		h.Logger.Error("Failed to register webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to register webhook",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(registerResponse{
		ID:        webhook.ID.String(),
		URL:       webhook.URL,
		Events:    []string(webhook.Events),
		Secret:    webhook.Secret,
		Active:    webhook.Active,
		CreatedAt: webhook.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/v1/webhooks?owner_id=
func (h *WebhookHandler) List(c *fiber.Ctx) error {
	var ownerID *uuid.UUID
	if raw := c.Query("owner_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "owner_id must be a valid UUID",
			})
		}
		ownerID = &parsed
	}

	webhooks, err := h.Registry.ListActive(c.Context(), ownerID, "")
	if err != nil {
		h.Logger.Error("Failed to list webhooks", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list webhooks",
		})
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}

	return c.JSON(fiber.Map{"webhooks": webhooks})
}

// Disable handles DELETE /api/v1/webhooks/:id — a soft-disable, idempotent.
func (h *WebhookHandler) Disable(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "webhook id must be a valid UUID",
		})
	}

	if err := h.Registry.Disable(c.Context(), id); err != nil {
		h.Logger.Error("Failed to disable webhook",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to disable webhook",
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Stats handles GET /api/v1/webhooks/:id/stats
func (h *WebhookHandler) Stats(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "webhook id must be a valid UUID",
		})
	}

	if _, err := h.Registry.Get(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrWebhookNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "webhook not found",
			})
		}
		h.Logger.Error("Failed to load webhook", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to load webhook",
		})
	}

	stats, err := h.Registry.Stats(c.Context(), id)
	if err != nil {
		h.Logger.Error("Failed to compute webhook stats",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to compute webhook stats",
		})
	}
	return c.JSON(stats)
}

// Deliveries handles GET /api/v1/webhooks/:id/deliveries — the audit trail,
// newest first.
func (h *WebhookHandler) Deliveries(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "webhook id must be a valid UUID",
		})
	}

	limit := 25
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsed
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsed
	}

	// Fetch one extra to determine has_more.
	records, err := h.DeliveryStore.ListByWebhook(c.Context(), id, limit+1, offset)
	if err != nil {
		h.Logger.Error("Failed to list deliveries",
			zap.String("webhook_id", id.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list deliveries",
		})
	}

	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	if records == nil {
		records = []models.DeliveryRecord{}
	}

	return c.JSON(fiber.Map{
		"deliveries": records,
		"has_more":   hasMore,
	})
}

type publishRequest struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	OwnerID   *uuid.UUID      `json:"owner_id,omitempty"`
}

// Publish handles POST /api/v1/events — the internal platform edge into
// fan-out, complementing AMQP ingestion. Enqueueing is synchronous;
// delivery is not.
func (h *WebhookHandler) Publish(c *fiber.Ctx) error {
	var req publishRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.EventType == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "event_type is required",
		})
	}

	if err := h.Publisher.Publish(c.Context(), req.EventType, req.Data, req.OwnerID); err != nil {
		h.Logger.Error("Failed to publish event",
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to publish event",
		})
	}
	return c.SendStatus(fiber.StatusAccepted)
}
