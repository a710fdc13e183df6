// Package rabbitmq wraps the AMQP connection with automatic reconnection.
// The delivery service consumes platform domain events from a source queue;
// losing the broker must not take the process down, so the connection
// monitors itself and re-dials with backoff.
package rabbitmq

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/config"
)

const (
	maxInitialAttempts = 10
	maxBackoff         = 30 * time.Second
)

// Connection manages the RabbitMQ connection and channel with automatic recovery.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *zap.Logger

	stopChan chan struct{}
	mu       sync.RWMutex
}

func NewConnection(cfg *config.RabbitMQConfig, logger *zap.Logger) *Connection {
	return &Connection{
		config:   cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the connection, retrying with exponential backoff,
// and starts the reconnection monitor.
func (c *Connection) Connect() error {
	backoff := time.Second

	for attempt := 1; ; attempt++ {
		err := c.dial()
		if err == nil {
			break
		}
		if attempt >= maxInitialAttempts {
			return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxInitialAttempts, err)
		}
		c.logger.Warn("Initial connection to RabbitMQ failed, retrying...",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	go c.monitor()
	return nil
}

func (c *Connection) dial() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}

	conn, err := amqp.DialConfig(c.config.ConnectionURL(), amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Vhost:     c.config.VHost,
		Properties: amqp.Table{
			"connection_name": "veribits-webhook-delivery",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel

	c.logger.Info("Connected to RabbitMQ",
		zap.String("host", c.config.Host),
		zap.String("vhost", c.config.VHost),
	)
	return nil
}

// monitor watches for connection loss and re-dials with backoff until the
// connection is closed deliberately.
func (c *Connection) monitor() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.stopChan:
			return
		case amqpErr := <-closeChan:
			if amqpErr == nil {
				return
			}
			c.logger.Warn("RabbitMQ connection lost, reconnecting...",
				zap.Error(amqpErr),
			)
		}

		backoff := time.Second
		for {
			select {
			case <-c.stopChan:
				return
			default:
			}
			if err := c.dial(); err == nil {
				break
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Close closes the channel and connection and stops the monitor.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Info("RabbitMQ connection closed")
	}
}

// Consume starts consuming messages from a queue.
func (c *Connection) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil, fmt.Errorf("RabbitMQ channel is not initialized or closed")
	}

	messages, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return messages, nil
}

// CancelConsumer cancels a running consumer by tag.
func (c *Connection) CancelConsumer(consumerTag string) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return nil
	}
	return ch.Cancel(consumerTag, false)
}

// SetQoS sets the prefetch count for the channel.
func (c *Connection) SetQoS(prefetchCount int) error {
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return fmt.Errorf("RabbitMQ channel is not initialized or closed")
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	return nil
}

// IsHealthy checks if the connection and channel are healthy.
func (c *Connection) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}
