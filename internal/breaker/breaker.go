// Package breaker auto-disables chronically failing webhooks. Every terminal
// delivery failure bumps a per-webhook counter with a rolling 24h expiry;
// reaching the threshold flips the webhook inactive. Successes do not reset
// the tally — only expiry decays it. Re-enabling is an explicit subscriber
// action outside this subsystem.
package breaker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/metrics"
	"github.com/veribits/webhook-delivery/internal/store"
)

const (
	// Threshold is the number of terminal failures within the rolling window
	// that disables a webhook.
	Threshold = 10

	// failureWindow is the rolling window after which the tally expires.
	failureWindow = 24 * time.Hour

	failureKeyPrefix = "webhook:failures:"
)

// Disabler is the slice of the registry the breaker needs.
type Disabler interface {
	Disable(ctx context.Context, id uuid.UUID) error
}

type Breaker struct {
	counters store.Counters
	registry Disabler
	logger   *zap.Logger
}

func New(counters store.Counters, registry Disabler, logger *zap.Logger) *Breaker {
	return &Breaker{
		counters: counters,
		registry: registry,
		logger:   logger,
	}
}

// RecordTerminalFailure bumps the webhook's rolling failure tally and
// disables the webhook once the threshold is reached.
func (b *Breaker) RecordTerminalFailure(ctx context.Context, webhookID uuid.UUID) error {
	key := failureKeyPrefix + webhookID.String()

	count, err := b.counters.Incr(ctx, key)
	if err != nil {
		b.logger.Error("Failed to increment webhook failure counter",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
		return err
	}
	if err := b.counters.Expire(ctx, key, failureWindow); err != nil {
		b.logger.Warn("Failed to set TTL on webhook failure counter",
			zap.String("webhook_id", webhookID.String()),
			zap.Error(err),
		)
	}

	if count < Threshold {
		return nil
	}

	if err := b.registry.Disable(ctx, webhookID); err != nil {
		b.logger.Error("Failed to disable failing webhook",
			zap.String("webhook_id", webhookID.String()),
			zap.Int64("failure_count", count),
			zap.Error(err),
		)
		return err
	}

	metrics.WebhooksDisabled.Inc()
	b.logger.Warn("Webhook disabled due to repeated failures",
		zap.String("webhook_id", webhookID.String()),
		zap.Int64("failure_count", count),
	)
	return nil
}
