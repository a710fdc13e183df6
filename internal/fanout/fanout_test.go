package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/store/storetest"
)

func newTestPublisher(t *testing.T) (*Publisher, *registry.Registry, *storetest.Store) {
	t.Helper()
	st := storetest.NewStore()
	reg := registry.New(st, zap.NewNop())
	return New(reg, st, zap.NewNop()), reg, st
}

func TestPublishEnqueuesPerSubscriber(t *testing.T) {
	publisher, reg, st := newTestPublisher(t)
	ctx := context.Background()
	ownerID := uuid.New()

	webhook, err := reg.Register(ctx, ownerID, "https://example.com/hooks", []string{"verification.completed"})
	require.NoError(t, err)

	data := json.RawMessage(`{"file_hash":"abc123","status":"passed"}`)
	require.NoError(t, publisher.Publish(ctx, "verification.completed", data, &ownerID))

	records := st.Records()
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, webhook.ID, rec.WebhookID)
	assert.Equal(t, "verification.completed", rec.EventType)
	assert.False(t, rec.Delivered)
	assert.False(t, rec.NextAttemptAt.After(time.Now().UTC()), "new records are due immediately")

	var envelope models.Envelope
	require.NoError(t, json.Unmarshal(rec.Payload, &envelope))
	assert.Equal(t, "verification.completed", envelope.Event)
	assert.Equal(t, webhook.ID.String(), envelope.WebhookID)

	_, err = time.Parse(time.RFC3339, envelope.Timestamp)
	assert.NoError(t, err)

	nested, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(nested))
}

func TestPublishSkipsUnsubscribed(t *testing.T) {
	publisher, reg, st := newTestPublisher(t)
	ctx := context.Background()
	ownerID := uuid.New()

	_, err := reg.Register(ctx, ownerID, "https://example.com/hooks", []string{"scan.completed"})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "billing.payment_failed", json.RawMessage(`{}`), &ownerID))
	assert.Empty(t, st.Records(), "no records for an event nobody subscribes to")
}

func TestPublishFansOutToAllMatches(t *testing.T) {
	publisher, reg, st := newTestPublisher(t)
	ctx := context.Background()
	ownerID := uuid.New()

	_, err := reg.Register(ctx, ownerID, "https://example.com/a", nil)
	require.NoError(t, err)
	_, err = reg.Register(ctx, ownerID, "https://example.com/b", []string{"quota.warning"})
	require.NoError(t, err)
	_, err = reg.Register(ctx, ownerID, "https://example.com/c", []string{"scan.completed"})
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(ctx, "quota.warning", json.RawMessage(`{"used":95}`), &ownerID))
	assert.Len(t, st.Records(), 2)
}

func TestPublishPropagatesPersistenceFailure(t *testing.T) {
	publisher, reg, st := newTestPublisher(t)
	ctx := context.Background()
	ownerID := uuid.New()

	_, err := reg.Register(ctx, ownerID, "https://example.com/hooks", nil)
	require.NoError(t, err)

	st.CreateRecordsErr = errors.New("connection refused")
	err = publisher.Publish(ctx, "verification.failed", json.RawMessage(`{}`), &ownerID)
	assert.Error(t, err, "a lost event must surface to the caller")
}
