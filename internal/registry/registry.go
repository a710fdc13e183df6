// Package registry manages webhook registrations: creation with a fresh
// signing secret, subscription-aware listing, soft-disable, and the stats
// read path.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/store"
)

// secretBytes is the size of the generated shared secret (256 bits).
const secretBytes = 32

// ValidationError rejects a registration synchronously, before anything
// enters the delivery queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type Registry struct {
	webhooks store.WebhookStore
	logger   *zap.Logger
}

func New(webhooks store.WebhookStore, logger *zap.Logger) *Registry {
	return &Registry{
		webhooks: webhooks,
		logger:   logger,
	}
}

// Register validates the destination URL, generates a random 256-bit secret,
// and persists the webhook as active. An empty event list defaults to the
// wildcard subscription. The returned webhook carries the secret; this is the
// only time it is exposed.
func (r *Registry) Register(ctx context.Context, ownerID uuid.UUID, rawURL string, events []string) (*models.Webhook, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	if len(events) == 0 {
		events = []string{models.EventsWildcard}
	}

	webhook := &models.Webhook{
		ID:      uuid.New(),
		OwnerID: ownerID,
		URL:     rawURL,
		Secret:  secret,
		Events:  models.EventSet(events),
		Active:  true,
	}

	if err := r.webhooks.CreateWebhook(ctx, webhook); err != nil {
		return nil, fmt.Errorf("failed to persist webhook: %w", err)
	}

	r.logger.Info("Webhook registered",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("owner_id", ownerID.String()),
		zap.String("url", rawURL),
		zap.Strings("events", events),
	)
	return webhook, nil
}

// ListActive returns active webhooks, optionally filtered by owner in the
// store and by subscription match in memory. An empty eventType skips the
// subscription filter.
func (r *Registry) ListActive(ctx context.Context, ownerID *uuid.UUID, eventType string) ([]models.Webhook, error) {
	webhooks, err := r.webhooks.ListActiveWebhooks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if eventType == "" {
		return webhooks, nil
	}

	matched := webhooks[:0]
	for _, w := range webhooks {
		if w.Subscribed(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

// Get loads a single webhook by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Webhook, error) {
	return r.webhooks.GetWebhook(ctx, id)
}

// Disable soft-disables a webhook; no further deliveries are attempted.
// Calling it on an already-disabled webhook is a no-op.
func (r *Registry) Disable(ctx context.Context, id uuid.UUID) error {
	if err := r.webhooks.SetWebhookActive(ctx, id, false); err != nil {
		return err
	}
	r.logger.Info("Webhook disabled",
		zap.String("webhook_id", id.String()),
	)
	return nil
}

// Stats summarizes the delivery audit trail for a webhook.
func (r *Registry) Stats(ctx context.Context, id uuid.UUID) (*models.DeliveryStats, error) {
	return r.webhooks.WebhookStats(ctx, id)
}

func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Field: "url", Reason: err.Error()}
	}
	if !parsed.IsAbs() {
		return &ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "missing host"}
	}
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
