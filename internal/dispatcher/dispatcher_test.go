package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/breaker"
	"github.com/veribits/webhook-delivery/internal/config"
	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/retry"
	"github.com/veribits/webhook-delivery/internal/signature"
	"github.com/veribits/webhook-delivery/internal/store/storetest"
)

type testEnv struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	store      *storetest.Store
	counters   *storetest.Counters
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, &config.DispatcherConfig{
		PollInterval:   time.Hour, // tests drive ProcessBatch directly
		BatchSize:      100,
		MaxConcurrency: 4,
		ClaimLease:     time.Minute,
		HTTPTimeout:    2 * time.Second,
	})
}

func newTestEnvWithConfig(t *testing.T, cfg *config.DispatcherConfig) *testEnv {
	t.Helper()
	st := storetest.NewStore()
	counters := storetest.NewCounters()
	logger := zap.NewNop()
	reg := registry.New(st, logger)
	brk := breaker.New(counters, reg, logger)
	retries := retry.NewScheduler(st, counters, brk, logger)

	return &testEnv{
		dispatcher: New(cfg, st, retries, NewClient(cfg.HTTPTimeout), logger),
		registry:   reg,
		store:      st,
		counters:   counters,
	}
}

func (e *testEnv) seedDelivery(t *testing.T, url string) (*models.Webhook, uuid.UUID) {
	t.Helper()
	webhook, err := e.registry.Register(context.Background(), uuid.New(), url, nil)
	require.NoError(t, err)

	record := models.DeliveryRecord{
		ID:            uuid.New(),
		WebhookID:     webhook.ID,
		EventType:     "verification.completed",
		Payload:       []byte(`{"event":"verification.completed","data":{"file_hash":"abc"}}`),
		NextAttemptAt: time.Now().UTC().Add(-time.Second),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, e.store.CreateDeliveryRecords(context.Background(), []models.DeliveryRecord{record}))
	return webhook, record.ID
}

func TestProcessBatchDeliversSignedPayload(t *testing.T) {
	env := newTestEnv(t)

	var (
		gotBody      []byte
		gotEvent     string
		gotSignature string
		gotDelivery  string
		gotUA        string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotEvent = r.Header.Get(HeaderEvent)
		gotSignature = r.Header.Get(HeaderSignature)
		gotDelivery = r.Header.Get(HeaderDelivery)
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook, recordID := env.seedDelivery(t, server.URL)
	env.dispatcher.ProcessBatch(context.Background())

	assert.Equal(t, "verification.completed", gotEvent)
	assert.Equal(t, recordID.String(), gotDelivery, "delivery id doubles as the idempotency token")
	assert.Equal(t, userAgent, gotUA)
	assert.True(t, signature.Verify(gotBody, gotSignature, webhook.Secret),
		"subscriber must be able to verify the payload with the shared secret")

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.True(t, stored.Delivered)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)
	require.NotNil(t, stored.ResponseTimeMs)
	require.NotNil(t, stored.DeliveredAt)
}

func TestProcessBatchRetriesThenSucceeds(t *testing.T) {
	env := newTestEnv(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, recordID := env.seedDelivery(t, server.URL)
	ctx := context.Background()

	// Two failing attempts, each rescheduled into the future.
	for i := 0; i < 2; i++ {
		env.dispatcher.ProcessBatch(ctx)
		stored, ok := env.store.Record(recordID)
		require.True(t, ok)
		assert.False(t, stored.Delivered)
		assert.True(t, stored.NextAttemptAt.After(time.Now().UTC()), "failed record must back off")
		env.store.ForceDue(recordID)
	}

	// Third attempt lands.
	env.dispatcher.ProcessBatch(ctx)

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.True(t, stored.Delivered)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)

	// A delivered record is never picked up again.
	env.store.ForceDue(recordID)
	env.dispatcher.ProcessBatch(ctx)
	assert.Equal(t, int32(3), requests.Load())
}

func TestProcessBatchExhaustsRetries(t *testing.T) {
	env := newTestEnv(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	webhook, recordID := env.seedDelivery(t, server.URL)
	ctx := context.Background()

	// Initial attempt plus three retries.
	for i := 0; i < retry.MaxRetries+1; i++ {
		env.dispatcher.ProcessBatch(ctx)
		env.store.ForceDue(recordID)
	}

	assert.Equal(t, int32(retry.MaxRetries+1), requests.Load())

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.True(t, stored.Delivered, "exhausted records are flagged terminal")
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusInternalServerError, *stored.ResponseCode)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "upstream exploded", *stored.Error)

	assert.Equal(t, int64(1), env.counters.Value("webhook:failures:"+webhook.ID.String()))
	active, ok := env.store.Webhook(webhook.ID)
	require.True(t, ok)
	assert.True(t, active.Active, "one terminal failure must not trip the breaker")

	// Terminal records stay terminal.
	env.dispatcher.ProcessBatch(ctx)
	assert.Equal(t, int32(retry.MaxRetries+1), requests.Load())
}

func TestProcessBatchTransportError(t *testing.T) {
	env := newTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // connection refused from here on

	_, recordID := env.seedDelivery(t, url)
	env.dispatcher.ProcessBatch(context.Background())

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.False(t, stored.Delivered)
	assert.True(t, stored.NextAttemptAt.After(time.Now().UTC()))
	assert.Equal(t, int64(1), env.counters.Value("webhook:retry:"+recordID.String()))
}

func TestProcessBatchRespectsClaimLease(t *testing.T) {
	env := newTestEnv(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, recordID := env.seedDelivery(t, server.URL)
	ctx := context.Background()

	// With the counter store down the failure handler bails out and the
	// record keeps its claim lease.
	env.counters.IncrErr = errors.New("redis down")
	env.dispatcher.ProcessBatch(ctx)
	require.Equal(t, int32(1), requests.Load())

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.False(t, stored.Delivered)
	assert.True(t, stored.ClaimedUntil.After(time.Now().UTC()))

	// Still claimed, so the next run must not re-attempt it.
	env.dispatcher.ProcessBatch(ctx)
	assert.Equal(t, int32(1), requests.Load())
}

func TestProcessBatchSkipsDisabledWebhooks(t *testing.T) {
	env := newTestEnv(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer server.Close()

	webhook, _ := env.seedDelivery(t, server.URL)
	require.NoError(t, env.registry.Disable(context.Background(), webhook.ID))

	env.dispatcher.ProcessBatch(context.Background())
	assert.Equal(t, int32(0), requests.Load(), "disabled webhooks receive no deliveries")
}

func TestEffectiveLeaseCoversBatchDrain(t *testing.T) {
	env := newTestEnvWithConfig(t, &config.DispatcherConfig{
		BatchSize:      100,
		MaxConcurrency: 8,
		ClaimLease:     time.Minute,
		HTTPTimeout:    10 * time.Second,
	})

	// The last claimed record can queue behind 100/8 rounds of 10s timeouts
	// (~125s); the configured 1m lease alone would expire mid-batch.
	assert.GreaterOrEqual(t, env.dispatcher.effectiveLease(), 125*time.Second)

	generous := newTestEnvWithConfig(t, &config.DispatcherConfig{
		BatchSize:      100,
		MaxConcurrency: 8,
		ClaimLease:     10 * time.Minute,
		HTTPTimeout:    10 * time.Second,
	})
	assert.Equal(t, 10*time.Minute, generous.dispatcher.effectiveLease())
}

func TestConcurrentDispatchersShareRecordsExclusively(t *testing.T) {
	cfg := &config.DispatcherConfig{
		PollInterval:   time.Hour,
		BatchSize:      1,
		MaxConcurrency: 1,
		ClaimLease:     50 * time.Millisecond, // far below the drain floor
		HTTPTimeout:    2 * time.Second,
	}
	env := newTestEnvWithConfig(t, cfg)
	secondRetries := retry.NewScheduler(env.store, env.counters,
		breaker.New(env.counters, env.registry, zap.NewNop()), zap.NewNop())
	second := New(cfg, env.store, secondRetries, NewClient(cfg.HTTPTimeout), zap.NewNop())

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, recordID := env.seedDelivery(t, server.URL)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.dispatcher.ProcessBatch(ctx)
	}()

	// While the first dispatcher's request is in flight, a second process
	// polling the same store must not pick the record up.
	time.Sleep(100 * time.Millisecond)
	second.ProcessBatch(ctx)
	<-done

	assert.Equal(t, int32(1), requests.Load(), "an in-flight record must never be dispatched twice")

	stored, ok := env.store.Record(recordID)
	require.True(t, ok)
	assert.True(t, stored.Delivered)
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.dispatcher.Start(context.Background()))
	assert.Error(t, env.dispatcher.Start(context.Background()), "second start must be rejected")
	env.dispatcher.Stop()
}
