package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType tags a domain event emitted by the surrounding platform.
type EventType string

const (
	VerificationCompleted EventType = "verification.completed"
	VerificationFailed    EventType = "verification.failed"
	ScanCompleted         EventType = "scan.completed"
	QuotaWarning          EventType = "quota.warning"
	PaymentSucceeded      EventType = "billing.payment_succeeded"
	PaymentFailed         EventType = "billing.payment_failed"
)

// ParseEventType parses a string into a known EventType.
// Returns an error if the event type is unknown.
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	validTypes := []EventType{
		VerificationCompleted,
		VerificationFailed,
		ScanCompleted,
		QuotaWarning,
		PaymentSucceeded,
		PaymentFailed,
	}

	for _, eventType := range validTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown event type: %s", name)
}

// DomainEvent is an incoming event from the platform (verification engines,
// billing) destined for webhook fan-out.
type DomainEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	OwnerID   *uuid.UUID      `json:"owner_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
