package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventsWildcard subscribes a webhook to every event type.
const EventsWildcard = "*"

// EventSet is the set of event types a webhook subscribes to,
// stored as a JSONB string array.
type EventSet []string

// Contains reports whether the set matches the given event type,
// either by the wildcard or by explicit membership.
func (e EventSet) Contains(eventType string) bool {
	for _, ev := range e {
		if ev == EventsWildcard || ev == eventType {
			return true
		}
	}
	return false
}

func (e EventSet) Value() (driver.Value, error) {
	return json.Marshal(e)
}

func (e *EventSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*e = EventSet{EventsWildcard}
		return nil
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("cannot scan %T into EventSet", src)
	}
}

// Webhook is a subscriber-registered endpoint plus its signing secret.
// The secret is generated at registration and never re-exposed afterwards.
// Webhooks are soft-disabled only, never deleted.
type Webhook struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null" json:"owner_id"`
	URL       string    `gorm:"not null" json:"url"`
	Secret    string    `gorm:"not null" json:"-"`
	Events    EventSet  `gorm:"type:jsonb;not null" json:"events"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Webhook) TableName() string {
	return "webhooks"
}

// Subscribed reports whether this webhook should receive the given event type.
func (w *Webhook) Subscribed(eventType string) bool {
	return w.Events.Contains(eventType)
}
