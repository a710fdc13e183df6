// Package storetest provides in-memory implementations of the store
// collaborators for unit tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/store"
)

// Store is an in-memory WebhookStore + DeliveryStore.
type Store struct {
	mu       sync.Mutex
	webhooks map[uuid.UUID]*models.Webhook
	records  map[uuid.UUID]*models.DeliveryRecord
	order    []uuid.UUID

	// CreateRecordsErr, when set, is returned by CreateDeliveryRecords to
	// simulate persistence failure at publish time.
	CreateRecordsErr error
}

var (
	_ store.WebhookStore  = (*Store)(nil)
	_ store.DeliveryStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		webhooks: make(map[uuid.UUID]*models.Webhook),
		records:  make(map[uuid.UUID]*models.DeliveryRecord),
	}
}

func (s *Store) CreateWebhook(_ context.Context, webhook *models.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *webhook
	s.webhooks[webhook.ID] = &copied
	return nil
}

func (s *Store) GetWebhook(_ context.Context, id uuid.UUID) (*models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return nil, store.ErrWebhookNotFound
	}
	copied := *webhook
	return &copied, nil
}

func (s *Store) ListActiveWebhooks(_ context.Context, ownerID *uuid.UUID) ([]models.Webhook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Webhook
	for _, webhook := range s.webhooks {
		if !webhook.Active {
			continue
		}
		if ownerID != nil && webhook.OwnerID != *ownerID {
			continue
		}
		out = append(out, *webhook)
	}
	return out, nil
}

func (s *Store) SetWebhookActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if webhook, ok := s.webhooks[id]; ok {
		webhook.Active = active
	}
	return nil
}

func (s *Store) WebhookStats(_ context.Context, id uuid.UUID) (*models.DeliveryStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &models.DeliveryStats{}
	var responseTimeSum, responseTimeCount int64
	for _, rec := range s.records {
		if rec.WebhookID != id {
			continue
		}
		stats.TotalEvents++
		if rec.Delivered {
			stats.DeliveredEvents++
		}
		if rec.ResponseTimeMs != nil {
			responseTimeSum += *rec.ResponseTimeMs
			responseTimeCount++
		}
		if rec.DeliveredAt != nil && (stats.LastDeliveryAt == nil || rec.DeliveredAt.After(*stats.LastDeliveryAt)) {
			deliveredAt := *rec.DeliveredAt
			stats.LastDeliveryAt = &deliveredAt
		}
	}
	if responseTimeCount > 0 {
		stats.AvgResponseTimeMs = float64(responseTimeSum) / float64(responseTimeCount)
	}
	return stats, nil
}

func (s *Store) CreateDeliveryRecords(_ context.Context, records []models.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateRecordsErr != nil {
		return s.CreateRecordsErr
	}
	for i := range records {
		copied := records[i]
		s.records[copied.ID] = &copied
		s.order = append(s.order, copied.ID)
	}
	return nil
}

func (s *Store) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]store.PendingDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var pending []store.PendingDelivery
	for _, id := range s.order {
		if len(pending) >= limit {
			break
		}
		rec := s.records[id]
		if rec.Delivered || rec.NextAttemptAt.After(now) || rec.ClaimedUntil.After(now) {
			continue
		}
		webhook, ok := s.webhooks[rec.WebhookID]
		if !ok || !webhook.Active {
			continue
		}
		rec.ClaimedUntil = now.Add(lease)
		pending = append(pending, store.PendingDelivery{Record: *rec, Webhook: *webhook})
	}
	return pending, nil
}

func (s *Store) MarkDelivered(_ context.Context, id uuid.UUID, responseCode int, responseTimeMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Delivered {
		return nil
	}
	now := time.Now().UTC()
	rec.Delivered = true
	rec.DeliveredAt = &now
	rec.ResponseCode = &responseCode
	rec.ResponseTimeMs = &responseTimeMs
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, responseCode int, errorBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Delivered {
		return nil
	}
	now := time.Now().UTC()
	rec.Delivered = true
	rec.DeliveredAt = &now
	rec.ResponseCode = &responseCode
	rec.Error = &errorBody
	return nil
}

func (s *Store) Reschedule(_ context.Context, id uuid.UUID, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Delivered {
		return nil
	}
	rec.NextAttemptAt = nextAttemptAt
	rec.ClaimedUntil = time.Time{}
	return nil
}

func (s *Store) ListByWebhook(_ context.Context, webhookID uuid.UUID, limit, offset int) ([]models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DeliveryRecord
	// Insertion order approximates created_at; newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.WebhookID != webhookID {
			continue
		}
		out = append(out, *rec)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Record returns a copy of the stored delivery record.
func (s *Store) Record(id uuid.UUID) (models.DeliveryRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return models.DeliveryRecord{}, false
	}
	return *rec, true
}

// Records returns copies of all stored delivery records in insertion order.
func (s *Store) Records() []models.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeliveryRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// Webhook returns a copy of the stored webhook.
func (s *Store) Webhook(id uuid.UUID) (models.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	webhook, ok := s.webhooks[id]
	if !ok {
		return models.Webhook{}, false
	}
	return *webhook, true
}

// ForceDue rewinds a record's schedule so the next ClaimPending picks it up,
// standing in for the passage of backoff time.
func (s *Store) ForceDue(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		rec.NextAttemptAt = time.Now().UTC().Add(-time.Second)
		rec.ClaimedUntil = time.Time{}
	}
}

// Counters is an in-memory store.Counters.
type Counters struct {
	mu     sync.Mutex
	values map[string]int64
	ttls   map[string]time.Duration

	// IncrErr, when set, is returned by Incr to simulate counter-store
	// failure.
	IncrErr error
}

var _ store.Counters = (*Counters)(nil)

func NewCounters() *Counters {
	return &Counters{
		values: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (c *Counters) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *Counters) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *Counters) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IncrErr != nil {
		return 0, c.IncrErr
	}
	c.values[key]++
	return c.values[key], nil
}

func (c *Counters) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttls[key] = ttl
	return nil
}

// Value returns the current counter value for key.
func (c *Counters) Value(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// TTL returns the last TTL applied to key.
func (c *Counters) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key]
}
