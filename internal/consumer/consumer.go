package consumer

import (
	"encoding/base64"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventHandler is implemented by consumers of decoded queue messages.
type EventHandler interface {
	HandleEvent(decodedMessage string) error
}

// ProcessMessage processes one RabbitMQ message: it decodes the
// base64-encoded body, hands it to the handler, and ACKs on success or
// NACKs without requeue on failure. Platform producers base64-encode event
// bodies on the wire.
func ProcessMessage(logger *zap.Logger, queue string, msg amqp.Delivery, handler EventHandler) {
	decodedMessage, err := base64.StdEncoding.DecodeString(string(msg.Body))
	if err != nil {
		logger.Error("Failed to decode base64 message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := handler.HandleEvent(string(decodedMessage)); err != nil {
		logger.Error("Failed to process message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		rejectMessage(logger, msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message from queue",
			zap.String("queue", queue),
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

// rejectMessage NACKs a message without requeue.
func rejectMessage(logger *zap.Logger, msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
