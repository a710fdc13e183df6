// Package store defines the persistence and counter collaborators the
// delivery subsystem is built against. Implementations live in the postgres
// and redis subpackages; tests use the in-memory doubles from storetest.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/veribits/webhook-delivery/internal/models"
)

// ErrWebhookNotFound is returned by GetWebhook when no webhook exists for
// the given id.
var ErrWebhookNotFound = errors.New("webhook not found")

// PendingDelivery pairs a claimed delivery record with its webhook, so a
// dispatch attempt has the destination URL and signing secret at hand.
type PendingDelivery struct {
	Record  models.DeliveryRecord
	Webhook models.Webhook
}

// WebhookStore persists webhook registrations.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, webhook *models.Webhook) error
	GetWebhook(ctx context.Context, id uuid.UUID) (*models.Webhook, error)
	// ListActiveWebhooks returns webhooks with active = true, optionally
	// filtered by owner.
	ListActiveWebhooks(ctx context.Context, ownerID *uuid.UUID) ([]models.Webhook, error)
	// SetWebhookActive flips the active flag. Idempotent.
	SetWebhookActive(ctx context.Context, id uuid.UUID, active bool) error
	WebhookStats(ctx context.Context, id uuid.UUID) (*models.DeliveryStats, error)
}

// DeliveryStore persists the durable delivery backlog.
type DeliveryStore interface {
	CreateDeliveryRecords(ctx context.Context, records []models.DeliveryRecord) error
	// ClaimPending atomically selects up to limit undelivered records that are
	// due (next_attempt_at reached, claim lease expired) and belong to active
	// webhooks, oldest first, and stamps a claim lease on them so no other
	// dispatcher worker picks them up while the lease holds.
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]PendingDelivery, error)
	// MarkDelivered records a successful attempt and sets the terminal flag.
	MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, responseTimeMs int64) error
	// MarkFailed records a terminal failure: delivered is set even though the
	// delivery never succeeded, meaning "delivery attempts exhausted".
	MarkFailed(ctx context.Context, id uuid.UUID, responseCode int, errorBody string) error
	// Reschedule releases the claim and makes the record eligible again at
	// nextAttemptAt.
	Reschedule(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time) error
	// ListByWebhook returns the delivery audit trail for a webhook, newest
	// first.
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit, offset int) ([]models.DeliveryRecord, error)
}

// Counters is the counter/cache collaborator backing retry counts and the
// circuit breaker's rolling failure tally. Incr must be atomic per key.
type Counters interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}
