package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckAllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("signaling", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("devices", func(ctx context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["signaling"])
	assert.Equal(t, "healthy", status.Checks["devices"])
}

func TestCheckAllReportsFailingProbe(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("signaling", func(ctx context.Context) error { return nil }, time.Second)
	h.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["redis"])
	assert.Equal(t, "healthy", status.Checks["signaling"])
}

func TestProbeTimeoutSurfacesAsUnhealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	}, 10*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
}
