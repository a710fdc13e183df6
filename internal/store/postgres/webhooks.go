package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/store"
)

// Store implements store.WebhookStore and store.DeliveryStore on GORM.
type Store struct {
	db *gorm.DB
}

// New creates a Postgres-backed store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateWebhook(ctx context.Context, webhook *models.Webhook) error {
	if err := s.db.WithContext(ctx).Create(webhook).Error; err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (s *Store) GetWebhook(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	var webhook models.Webhook
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&webhook).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to load webhook: %w", err)
	}
	return &webhook, nil
}

func (s *Store) ListActiveWebhooks(ctx context.Context, ownerID *uuid.UUID) ([]models.Webhook, error) {
	query := s.db.WithContext(ctx).Where("active = ?", true)
	if ownerID != nil {
		query = query.Where("owner_id = ?", *ownerID)
	}

	var webhooks []models.Webhook
	if err := query.Order("created_at").Find(&webhooks).Error; err != nil {
		return nil, fmt.Errorf("failed to list active webhooks: %w", err)
	}
	return webhooks, nil
}

func (s *Store) SetWebhookActive(ctx context.Context, id uuid.UUID, active bool) error {
	err := s.db.WithContext(ctx).Model(&models.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update webhook active flag: %w", err)
	}
	return nil
}

func (s *Store) WebhookStats(ctx context.Context, id uuid.UUID) (*models.DeliveryStats, error) {
	var row struct {
		TotalEvents     int64
		DeliveredEvents int64
		AvgResponseTime *float64
		LastDelivery    *time.Time
	}

	err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS total_events,
			COUNT(*) FILTER (WHERE delivered) AS delivered_events,
			AVG(response_time_ms) AS avg_response_time,
			MAX(delivered_at) AS last_delivery
		FROM delivery_records
		WHERE webhook_id = ?`, id).Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook stats: %w", err)
	}

	stats := &models.DeliveryStats{
		TotalEvents:     row.TotalEvents,
		DeliveredEvents: row.DeliveredEvents,
		LastDeliveryAt:  row.LastDelivery,
	}
	if row.AvgResponseTime != nil {
		stats.AvgResponseTimeMs = *row.AvgResponseTime
	}
	return stats, nil
}
