// Package fanout turns one domain event into one delivery record per
// matching active webhook. Publishing is fire-and-forget at the API
// boundary: the caller learns only whether the records were durably
// enqueued, never how delivery went.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/store"
)

type Publisher struct {
	registry   *registry.Registry
	deliveries store.DeliveryStore
	logger     *zap.Logger
}

func New(reg *registry.Registry, deliveries store.DeliveryStore, logger *zap.Logger) *Publisher {
	return &Publisher{
		registry:   reg,
		deliveries: deliveries,
		logger:     logger,
	}
}

// Publish enqueues one delivery record per active webhook subscribed to
// eventType. A persistence failure propagates to the caller, since the event
// would otherwise be silently lost; zero matches is a successful no-op.
func (p *Publisher) Publish(ctx context.Context, eventType string, data json.RawMessage, ownerID *uuid.UUID) error {
	webhooks, err := p.registry.ListActive(ctx, ownerID, eventType)
	if err != nil {
		return fmt.Errorf("failed to resolve subscribers for %s: %w", eventType, err)
	}
	if len(webhooks) == 0 {
		p.logger.Debug("No active webhooks subscribed to event",
			zap.String("event_type", eventType),
		)
		return nil
	}

	now := time.Now().UTC()
	records := make([]models.DeliveryRecord, 0, len(webhooks))
	for _, webhook := range webhooks {
		envelope := models.Envelope{
			Event:     eventType,
			Data:      data,
			Timestamp: now.Format(time.RFC3339),
			WebhookID: webhook.ID.String(),
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal payload envelope: %w", err)
		}

		records = append(records, models.DeliveryRecord{
			ID:            uuid.New(),
			WebhookID:     webhook.ID,
			EventType:     eventType,
			Payload:       payload,
			Delivered:     false,
			NextAttemptAt: now,
			CreatedAt:     now,
		})
	}

	if err := p.deliveries.CreateDeliveryRecords(ctx, records); err != nil {
		return fmt.Errorf("failed to enqueue deliveries for %s: %w", eventType, err)
	}

	p.logger.Debug("Webhook deliveries queued",
		zap.String("event_type", eventType),
		zap.Int("delivery_count", len(records)),
	)
	return nil
}
