package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/fanout"
	"github.com/veribits/webhook-delivery/internal/models"
	"github.com/veribits/webhook-delivery/internal/registry"
	"github.com/veribits/webhook-delivery/internal/store/storetest"
)

func newTestApp(t *testing.T) (*fiber.App, *registry.Registry, *storetest.Store) {
	t.Helper()
	st := storetest.NewStore()
	logger := zap.NewNop()
	reg := registry.New(st, logger)
	publisher := fanout.New(reg, st, logger)
	handler := NewWebhookHandler(reg, publisher, st, logger)

	app := fiber.New()
	v1 := app.Group("/api/v1")
	v1.Post("/webhooks", handler.Register)
	v1.Get("/webhooks", handler.List)
	v1.Delete("/webhooks/:id", handler.Disable)
	v1.Get("/webhooks/:id/stats", handler.Stats)
	v1.Get("/webhooks/:id/deliveries", handler.Deliveries)
	v1.Post("/events", handler.Publish)
	return app, reg, st
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestRegisterWebhook(t *testing.T) {
	app, _, _ := newTestApp(t)

	req := jsonRequest(t, http.MethodPost, "/api/v1/webhooks", fiber.Map{
		"owner_id": uuid.New().String(),
		"url":      "https://example.com/hooks",
		"events":   []string{"verification.completed"},
	})
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body struct {
		ID     string   `json:"id"`
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
		Active bool     `json:"active"`
	}
	decodeBody(t, resp, &body)

	assert.NotEmpty(t, body.ID)
	assert.Equal(t, "https://example.com/hooks", body.URL)
	assert.Equal(t, []string{"verification.completed"}, body.Events)
	assert.Len(t, body.Secret, 64, "registration is the only response carrying the secret")
	assert.True(t, body.Active)
}

func TestRegisterWebhookValidation(t *testing.T) {
	app, _, _ := newTestApp(t)

	cases := []struct {
		name string
		body fiber.Map
	}{
		{"bad owner id", fiber.Map{"owner_id": "nope", "url": "https://example.com"}},
		{"missing url", fiber.Map{"owner_id": uuid.New().String()}},
		{"bad scheme", fiber.Map{"owner_id": uuid.New().String(), "url": "ftp://example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/webhooks", tc.body))
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestListWebhooksOmitsSecrets(t *testing.T) {
	app, reg, _ := newTestApp(t)
	ownerID := uuid.New()

	_, err := reg.Register(context.Background(), ownerID, "https://example.com/hooks", nil)
	require.NoError(t, err)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/v1/webhooks?owner_id="+ownerID.String(), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotContains(t, string(raw), "secret")

	var body struct {
		Webhooks []models.Webhook `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Len(t, body.Webhooks, 1)
	assert.Empty(t, body.Webhooks[0].Secret)
}

func TestDisableWebhook(t *testing.T) {
	app, reg, st := newTestApp(t)

	webhook, err := reg.Register(context.Background(), uuid.New(), "https://example.com/hooks", nil)
	require.NoError(t, err)

	resp, err := app.Test(jsonRequest(t, http.MethodDelete, "/api/v1/webhooks/"+webhook.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	stored, ok := st.Webhook(webhook.ID)
	require.True(t, ok)
	assert.False(t, stored.Active)

	// Idempotent.
	resp, err = app.Test(jsonRequest(t, http.MethodDelete, "/api/v1/webhooks/"+webhook.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
}

func TestStatsUnknownWebhook(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/api/v1/webhooks/"+uuid.New().String()+"/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeliveriesPagination(t *testing.T) {
	app, reg, st := newTestApp(t)

	webhook, err := reg.Register(context.Background(), uuid.New(), "https://example.com/hooks", nil)
	require.NoError(t, err)

	records := make([]models.DeliveryRecord, 0, 3)
	for i := 0; i < 3; i++ {
		records = append(records, models.DeliveryRecord{
			ID:        uuid.New(),
			WebhookID: webhook.ID,
			EventType: "scan.completed",
			Payload:   []byte(`{}`),
			CreatedAt: time.Now().UTC(),
		})
	}
	require.NoError(t, st.CreateDeliveryRecords(context.Background(), records))

	target := fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=2", webhook.ID)
	resp, err := app.Test(jsonRequest(t, http.MethodGet, target, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Deliveries []models.DeliveryRecord `json:"deliveries"`
		HasMore    bool                    `json:"has_more"`
	}
	decodeBody(t, resp, &body)
	assert.Len(t, body.Deliveries, 2)
	assert.True(t, body.HasMore)

	target = fmt.Sprintf("/api/v1/webhooks/%s/deliveries?limit=2&offset=2", webhook.ID)
	resp, err = app.Test(jsonRequest(t, http.MethodGet, target, nil))
	require.NoError(t, err)
	decodeBody(t, resp, &body)
	assert.Len(t, body.Deliveries, 1)
	assert.False(t, body.HasMore)
}

func TestPublishEvent(t *testing.T) {
	app, reg, st := newTestApp(t)
	ownerID := uuid.New()

	_, err := reg.Register(context.Background(), ownerID, "https://example.com/hooks", nil)
	require.NoError(t, err)

	req := jsonRequest(t, http.MethodPost, "/api/v1/events", fiber.Map{
		"event_type": "quota.warning",
		"data":       fiber.Map{"used_percent": 95},
		"owner_id":   ownerID.String(),
	})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	require.Len(t, st.Records(), 1)
	assert.Equal(t, "quota.warning", st.Records()[0].EventType)
}

func TestPublishEventRequiresType(t *testing.T) {
	app, _, _ := newTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/api/v1/events", fiber.Map{
		"data": fiber.Map{},
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
