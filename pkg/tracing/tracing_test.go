package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledReturnsInertProvider(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "callmesh", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestSpanHelpersProduceSpans(t *testing.T) {
	ctx := context.Background()

	ctx, span := TraceCallOperation(ctx, "start", "room-1")
	assert.NotNil(t, span)
	span.End()

	_, span = TraceSignaling(ctx, "offer", "room-1")
	assert.NotNil(t, span)
	span.End()

	_, span = TraceHTTPRequest(ctx, "POST", "/api/v1/call/start")
	assert.NotNil(t, span)
	span.End()
}

func TestRecordErrorWithoutActiveSpanIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordError(context.Background(), assert.AnError)
	})
}
