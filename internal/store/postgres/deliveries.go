package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/store"
)

func (s *Store) CreateDeliveryRecords(ctx context.Context, records []models.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to create delivery records: %w", err)
	}
	return nil
}

// ClaimPending selects due, undelivered records of active webhooks with
// FOR UPDATE SKIP LOCKED and stamps a claim lease inside the same
// transaction, so concurrent dispatcher workers never double-claim a record.
func (s *Store) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]store.PendingDelivery, error) {
	var records []models.DeliveryRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Raw(`
			SELECT dr.*
			FROM delivery_records dr
			JOIN webhooks w ON w.id = dr.webhook_id
			WHERE dr.delivered = false
			  AND w.active = true
			  AND dr.next_attempt_at <= now()
			  AND dr.claimed_until <= now()
			ORDER BY dr.created_at
			LIMIT ?
			FOR UPDATE OF dr SKIP LOCKED`, limit).Scan(&records).Error
		if err != nil {
			return fmt.Errorf("failed to select pending deliveries: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(records))
		for i := range records {
			ids[i] = records[i].ID
		}

		err = tx.Model(&models.DeliveryRecord{}).
			Where("id IN ?", ids).
			Update("claimed_until", time.Now().UTC().Add(lease)).Error
		if err != nil {
			return fmt.Errorf("failed to stamp claim lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Load the webhooks outside the claim transaction; the claim lease
	// already guards against double-processing.
	webhookIDs := make([]uuid.UUID, 0, len(records))
	seen := make(map[uuid.UUID]bool)
	for _, rec := range records {
		if !seen[rec.WebhookID] {
			seen[rec.WebhookID] = true
			webhookIDs = append(webhookIDs, rec.WebhookID)
		}
	}

	var webhooks []models.Webhook
	if err := s.db.WithContext(ctx).Where("id IN ?", webhookIDs).Find(&webhooks).Error; err != nil {
		return nil, fmt.Errorf("failed to load webhooks for claimed deliveries: %w", err)
	}
	byID := make(map[uuid.UUID]models.Webhook, len(webhooks))
	for _, w := range webhooks {
		byID[w.ID] = w
	}

	pending := make([]store.PendingDelivery, 0, len(records))
	for _, rec := range records {
		webhook, ok := byID[rec.WebhookID]
		if !ok {
			// Webhook row gone; the record is meaningless without it.
			continue
		}
		pending = append(pending, store.PendingDelivery{Record: rec, Webhook: webhook})
	}
	return pending, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, responseTimeMs int64) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("id = ? AND delivered = false", id).
		Updates(map[string]interface{}{
			"delivered":        true,
			"delivered_at":     now,
			"response_code":    responseCode,
			"response_time_ms": responseTimeMs,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s delivered: %w", id, err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, responseCode int, errorBody string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("id = ? AND delivered = false", id).
		Updates(map[string]interface{}{
			"delivered":     true,
			"delivered_at":  now,
			"response_code": responseCode,
			"error":         errorBody,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark delivery %s failed: %w", id, err)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.DeliveryRecord{}).
		Where("id = ? AND delivered = false", id).
		Updates(map[string]interface{}{
			"next_attempt_at": nextAttemptAt,
			"claimed_until":   time.Time{},
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reschedule delivery %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]models.DeliveryRecord, error) {
	var records []models.DeliveryRecord
	err := s.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries for webhook %s: %w", webhookID, err)
	}
	return records, nil
}
