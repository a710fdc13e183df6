package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryRecord is the durable unit of work representing one event destined
// for one webhook. The record ID doubles as the idempotency token sent to the
// subscriber in the X-VeriBits-Delivery header.
//
// Delivered is a terminal flag: it is set once delivery either succeeded or
// retries were exhausted, and the record is never revisited afterwards.
// Records are never deleted; they form the audit trail behind the stats and
// deliveries read paths.
type DeliveryRecord struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	WebhookID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"webhook_id"`
	EventType      string     `gorm:"not null" json:"event_type"`
	Payload        []byte     `gorm:"type:jsonb;not null" json:"payload"`
	Delivered      bool       `gorm:"not null;default:false" json:"delivered"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	ResponseCode   *int       `json:"response_code"`
	ResponseTimeMs *int64     `json:"response_time_ms"`
	Error          *string    `json:"error"`
	NextAttemptAt  time.Time  `gorm:"not null;default:now()" json:"next_attempt_at"`
	ClaimedUntil   time.Time  `gorm:"not null;default:'epoch'" json:"-"`
	CreatedAt      time.Time  `gorm:"not null;default:now()" json:"created_at"`
}

func (DeliveryRecord) TableName() string {
	return "delivery_records"
}

// Envelope is the canonical payload wrapper frozen into a DeliveryRecord at
// fan-out time and POSTed verbatim to the subscriber.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
	WebhookID string      `json:"webhook_id"`
}

// DeliveryStats summarizes the audit trail of a single webhook.
type DeliveryStats struct {
	TotalEvents       int64      `json:"total_events"`
	DeliveredEvents   int64      `json:"delivered_events"`
	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	LastDeliveryAt    *time.Time `json:"last_delivery_at"`
}
