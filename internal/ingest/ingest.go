// Package ingest consumes platform domain events from RabbitMQ and feeds
// them into webhook fan-out. This is the edge through which the verification
// engines and billing reach the delivery subsystem without linking it.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/config"
	"github.com/veribits/webhook-delivery/internal/consumer"
	"github.com/veribits/webhook-delivery/internal/fanout"
	"github.com/veribits/webhook-delivery/internal/models"
)

// Broker is the slice of the AMQP connection the ingestor consumes through.
type Broker interface {
	SetQoS(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
	CancelConsumer(consumerTag string) error
	IsHealthy() bool
}

type Ingestor struct {
	cfg         *config.RabbitMQConfig
	conn        Broker
	publisher   *fanout.Publisher
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	consumerTag string
	started     atomic.Bool
	retryDelay  time.Duration
}

func New(cfg *config.RabbitMQConfig, conn Broker, publisher *fanout.Publisher, logger *zap.Logger) *Ingestor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		cfg:         cfg,
		conn:        conn,
		publisher:   publisher,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-ingest-%d", time.Now().Unix()),
		retryDelay:  2 * time.Second,
	}
}

// Start begins consuming domain events from the source queue.
// Assumes the queue already exists - will fail if it doesn't.
func (i *Ingestor) Start() error {
	if i.cfg.SourceQueue == "" {
		return fmt.Errorf("source queue is required")
	}

	if err := i.conn.SetQoS(i.cfg.PrefetchCount); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := i.startConsuming(); err != nil {
		return err
	}

	i.started.Store(true)
	i.logger.Info("Event ingestor started",
		zap.String("source_queue", i.cfg.SourceQueue),
		zap.String("consumer_tag", i.consumerTag),
	)
	return nil
}

func (i *Ingestor) startConsuming() error {
	messages, err := i.conn.Consume(i.cfg.SourceQueue, i.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", i.cfg.SourceQueue, err)
	}

	go i.processMessages(messages)
	return nil
}

// Stop gracefully stops the ingestor.
func (i *Ingestor) Stop() {
	i.started.Store(false)
	i.cancel()
	if err := i.conn.CancelConsumer(i.consumerTag); err != nil {
		i.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", i.consumerTag),
			zap.Error(err),
		)
	}
	i.logger.Info("Event ingestor stopped")
}

func (i *Ingestor) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-i.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				i.logger.Warn("Message channel closed, attempting to restart consumer...",
					zap.String("source_queue", i.cfg.SourceQueue),
				)
				i.restartConsuming()
				return
			}
			consumer.ProcessMessage(i.logger, i.cfg.SourceQueue, msg, i)
		}
	}
}

// restartConsuming re-registers the consumer after a channel close, retrying
// until the broker accepts it or the ingestor is stopped. The connection
// re-dials on its own but never re-registers consumers.
func (i *Ingestor) restartConsuming() {
	for i.started.Load() {
		select {
		case <-i.ctx.Done():
			return
		case <-time.After(i.retryDelay):
		}

		if !i.conn.IsHealthy() {
			i.logger.Debug("Connection not healthy yet, waiting...",
				zap.String("source_queue", i.cfg.SourceQueue),
			)
			continue
		}

		if err := i.startConsuming(); err != nil {
			i.logger.Error("Failed to restart consuming after channel close, will retry",
				zap.String("source_queue", i.cfg.SourceQueue),
				zap.Error(err),
			)
			continue
		}

		// The new goroutine has taken over.
		i.logger.Info("Successfully restarted consumer after channel close",
			zap.String("source_queue", i.cfg.SourceQueue),
		)
		return
	}
}

// HandleEvent implements consumer.EventHandler. The decoded message is a
// JSON DomainEvent; it is published through fan-out as-is. Unknown event
// types are still delivered — subscriptions are matched by string — but are
// logged for visibility.
func (i *Ingestor) HandleEvent(decodedMessage string) error {
	var event models.DomainEvent
	if err := json.Unmarshal([]byte(decodedMessage), &event); err != nil {
		return fmt.Errorf("failed to unmarshal domain event: %w", err)
	}
	if event.EventType == "" {
		return fmt.Errorf("domain event missing event_type")
	}

	if _, err := models.ParseEventType(event.EventType); err != nil {
		i.logger.Warn("Ingesting event of unknown type",
			zap.String("event_type", event.EventType),
		)
	}

	if err := i.publisher.Publish(i.ctx, event.EventType, event.Data, event.OwnerID); err != nil {
		return fmt.Errorf("failed to fan out event: %w", err)
	}

	i.logger.Info("Domain event ingested",
		zap.String("event_type", event.EventType),
	)
	return nil
}
