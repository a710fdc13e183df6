// Package retry decides the fate of failed delivery attempts: exponential
// backoff within the retry budget, terminal failure beyond it. The retry
// count lives in the counter store (atomic under concurrent workers); the
// record's next_attempt_at carries when the delivery becomes due again.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/breaker"
	"github.com/veribits/webhook-delivery/internal/metrics"
	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/store"
)

const (
	retryKeyPrefix = "webhook:retry:"

	// retryCountWindow bounds the lifetime of retry counters; it comfortably
	// exceeds the longest possible retry schedule.
	retryCountWindow = 24 * time.Hour

	// maxErrorBody is the stored length of a terminal failure's response body.
	maxErrorBody = 1000
)

type Scheduler struct {
	deliveries store.DeliveryStore
	counters   store.Counters
	breaker    *breaker.Breaker
	logger     *zap.Logger
}

func NewScheduler(deliveries store.DeliveryStore, counters store.Counters, brk *breaker.Breaker, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		deliveries: deliveries,
		counters:   counters,
		breaker:    brk,
		logger:     logger,
	}
}

// HandleFailure processes one failed delivery attempt. Within the retry
// budget the record is rescheduled with exponential backoff; beyond it the
// record is marked terminally failed and the circuit breaker is notified.
// responseCode is 0 when no response was received (transport error/timeout).
func (s *Scheduler) HandleFailure(ctx context.Context, record *models.DeliveryRecord, webhook *models.Webhook, responseCode int, responseBody string) error {
	key := retryKeyPrefix + record.ID.String()

	retryCount, err := s.counters.Incr(ctx, key)
	if err != nil {
		// Leave the record claimed; the lease expiry will surface it again.
		s.logger.Error("Failed to increment retry counter",
			zap.String("delivery_id", record.ID.String()),
			zap.Error(err),
		)
		return err
	}
	if err := s.counters.Expire(ctx, key, retryCountWindow); err != nil {
		s.logger.Warn("Failed to set TTL on retry counter",
			zap.String("delivery_id", record.ID.String()),
			zap.Error(err),
		)
	}

	if retryCount <= MaxRetries {
		delay := Delay(int(retryCount))
		nextAttempt := time.Now().UTC().Add(delay)

		if err := s.deliveries.Reschedule(ctx, record.ID, nextAttempt); err != nil {
			return err
		}

		metrics.RetriesScheduled.Inc()
		s.logger.Warn("Webhook delivery failed, will retry",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("delivery_id", record.ID.String()),
			zap.String("url", webhook.URL),
			zap.Int("response_code", responseCode),
			zap.Int64("retry_count", retryCount),
			zap.Duration("delay", delay),
		)
		return nil
	}

	if len(responseBody) > maxErrorBody {
		responseBody = responseBody[:maxErrorBody]
	}
	if err := s.deliveries.MarkFailed(ctx, record.ID, responseCode, responseBody); err != nil {
		return err
	}

	metrics.TerminalFailures.Inc()
	s.logger.Error("Webhook delivery failed permanently",
		zap.String("webhook_id", webhook.ID.String()),
		zap.String("delivery_id", record.ID.String()),
		zap.String("url", webhook.URL),
		zap.Int("response_code", responseCode),
		zap.Bool("final_retry", true),
	)

	return s.breaker.RecordTerminalFailure(ctx, webhook.ID)
}
