package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veribits/webhook-delivery/internal/store/storetest"
)

type recordingDisabler struct {
	disabled []uuid.UUID
	err      error
}

func (d *recordingDisabler) Disable(_ context.Context, id uuid.UUID) error {
	if d.err != nil {
		return d.err
	}
	d.disabled = append(d.disabled, id)
	return nil
}

func TestRecordTerminalFailureBelowThreshold(t *testing.T) {
	counters := storetest.NewCounters()
	disabler := &recordingDisabler{}
	brk := New(counters, disabler, zap.NewNop())
	webhookID := uuid.New()

	for i := 0; i < Threshold-1; i++ {
		require.NoError(t, brk.RecordTerminalFailure(context.Background(), webhookID))
	}

	assert.Empty(t, disabler.disabled, "webhook must stay active below the threshold")
	assert.Equal(t, int64(Threshold-1), counters.Value("webhook:failures:"+webhookID.String()))
	assert.Equal(t, 24*time.Hour, counters.TTL("webhook:failures:"+webhookID.String()))
}

func TestRecordTerminalFailureTripsAtThreshold(t *testing.T) {
	counters := storetest.NewCounters()
	disabler := &recordingDisabler{}
	brk := New(counters, disabler, zap.NewNop())
	webhookID := uuid.New()

	for i := 0; i < Threshold; i++ {
		require.NoError(t, brk.RecordTerminalFailure(context.Background(), webhookID))
	}

	require.Len(t, disabler.disabled, 1)
	assert.Equal(t, webhookID, disabler.disabled[0])
}

func TestRecordTerminalFailureDisableError(t *testing.T) {
	counters := storetest.NewCounters()
	disabler := &recordingDisabler{err: errors.New("db down")}
	brk := New(counters, disabler, zap.NewNop())
	webhookID := uuid.New()

	key := "webhook:failures:" + webhookID.String()
	require.NoError(t, counters.Set(context.Background(), key, Threshold-1, time.Hour))

	err := brk.RecordTerminalFailure(context.Background(), webhookID)
	assert.Error(t, err)
}
