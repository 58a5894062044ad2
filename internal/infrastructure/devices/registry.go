package devices

import (
	"context"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"go.uber.org/zap"
)

// Registry holds the most recent output-device snapshot pushed by the
// render side. The core cannot enumerate hardware itself; the renderer
// replaces the whole snapshot whenever the platform reports a change.
// Reads always see the latest push, never a cached enumeration.
type Registry struct {
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	devices   []domain.DeviceDescriptor
	updatedAt time.Time
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{logger: logger}
}

var _ ports.DeviceSource = (*Registry)(nil)

// Replace swaps the full device snapshot. Non-audiooutput entries are
// filtered out; the call core only routes playout.
func (r *Registry) Replace(devices []domain.DeviceDescriptor) {
	kept := make([]domain.DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		if d.Kind != domain.DeviceAudioOutput {
			continue
		}
		kept = append(kept, d)
	}

	r.mu.Lock()
	r.devices = kept
	r.updatedAt = time.Now()
	r.mu.Unlock()

	r.logger.Infow("device snapshot replaced",
		"devices", len(kept),
		"dropped", len(devices)-len(kept),
	)
}

func (r *Registry) ListOutputDevices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DeviceDescriptor, len(r.devices))
	copy(out, r.devices)
	return out, nil
}

// UpdatedAt reports when the renderer last pushed a snapshot. Zero until
// the first push.
func (r *Registry) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}
