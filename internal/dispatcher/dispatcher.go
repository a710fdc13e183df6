// Package dispatcher drains the durable delivery backlog: it periodically
// claims a batch of due records, POSTs each payload with its HMAC signature
// through a bounded worker pool, and routes failures to the retry scheduler.
// It runs as a background task, never inline with a user-facing request, and
// keeps no state between runs — all cross-run state lives in the stores.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/config"
	"github.com/veribits/webhook-delivery/internal/metrics"
	"github.com/veribits/webhook-delivery/internal/retry"
	"github.com/veribits/webhook-delivery/internal/signature"
	"github.com/veribits/webhook-delivery/internal/store"
)

type Dispatcher struct {
	cfg        *config.DispatcherConfig
	deliveries store.DeliveryStore
	retries    *retry.Scheduler
	client     *Client
	logger     *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

func New(cfg *config.DispatcherConfig, deliveries store.DeliveryStore, retries *retry.Scheduler, client *Client, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		deliveries: deliveries,
		retries:    retries,
		client:     client,
		logger:     logger,
	}
}

// Start launches the polling loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already started")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				d.ProcessBatch(d.ctx)
			}
		}
	}()

	d.logger.Info("Dispatcher started",
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("max_concurrency", d.cfg.MaxConcurrency),
		zap.Duration("claim_lease", d.effectiveLease()),
	)
	return nil
}

// effectiveLease returns the claim lease, floored at the worst-case batch
// drain: a claimed record can wait ceil(batch_size/max_concurrency) full HTTP
// timeouts behind the semaphore before its own attempt even starts, and the
// lease must outlive that or a second dispatcher re-claims an in-flight
// record.
func (d *Dispatcher) effectiveLease() time.Duration {
	rounds := (d.cfg.BatchSize + d.cfg.MaxConcurrency - 1) / d.cfg.MaxConcurrency
	drain := time.Duration(rounds+1) * d.cfg.HTTPTimeout
	if d.cfg.ClaimLease > drain {
		return d.cfg.ClaimLease
	}
	return drain
}

// Stop cancels the polling loop and waits for in-flight deliveries to
// finish or time out.
func (d *Dispatcher) Stop() {
	if !d.started.Load() {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// ProcessBatch claims up to the configured batch of due deliveries and
// dispatches them through a bounded worker pool. At most one outbound
// request is made per record per run.
func (d *Dispatcher) ProcessBatch(ctx context.Context) {
	pending, err := d.deliveries.ClaimPending(ctx, d.cfg.BatchSize, d.effectiveLease())
	if err != nil {
		d.logger.Error("Failed to claim pending deliveries", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	sem := make(chan struct{}, d.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i := range pending {
		wg.Add(1)
		sem <- struct{}{}
		go func(pd store.PendingDelivery) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, pd)
		}(pending[i])
	}
	wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, pd store.PendingDelivery) {
	record := pd.Record
	webhook := pd.Webhook

	sig := signature.Sign(record.Payload, webhook.Secret)
	result := d.client.Post(ctx, webhook.URL, record.Payload, record.EventType, sig, record.ID.String())

	metrics.DeliveryDuration.Observe(float64(result.LatencyMs) / 1000)

	if result.Success() {
		metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		if err := d.deliveries.MarkDelivered(ctx, record.ID, result.ResponseCode(), result.LatencyMs); err != nil {
			d.logger.Error("Failed to mark delivery as delivered",
				zap.String("delivery_id", record.ID.String()),
				zap.Error(err),
			)
			return
		}
		d.logger.Info("Webhook delivered successfully",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("delivery_id", record.ID.String()),
			zap.String("url", webhook.URL),
			zap.Int("response_code", result.ResponseCode()),
			zap.Int64("duration_ms", result.LatencyMs),
		)
		return
	}

	metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
	if result.Err != nil {
		d.logger.Warn("Webhook delivery attempt failed",
			zap.String("webhook_id", webhook.ID.String()),
			zap.String("delivery_id", record.ID.String()),
			zap.String("url", webhook.URL),
			zap.Int64("duration_ms", result.LatencyMs),
			zap.Error(result.Err),
		)
	}

	body := result.Body
	if body == "" && result.Err != nil {
		body = result.Err.Error()
	}
	if err := d.retries.HandleFailure(ctx, &record, &webhook, result.ResponseCode(), body); err != nil {
		d.logger.Error("Failed to process delivery failure",
			zap.String("delivery_id", record.ID.String()),
			zap.Error(err),
		)
	}
}
