package services

import (
	"context"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"go.uber.org/zap"
)

// DeviceService serves the options UI: speaker selection and per-link
// connection diagnostics for the active call.
type DeviceService struct {
	source  ports.DeviceSource
	manager *CallManager
	logger  *zap.SugaredLogger
}

func NewDeviceService(source ports.DeviceSource, manager *CallManager, logger *zap.SugaredLogger) *DeviceService {
	return &DeviceService{
		source:  source,
		manager: manager,
		logger:  logger,
	}
}

var _ ports.DeviceFacade = (*DeviceService)(nil)

// ListOutputDevices re-queries the platform on every call; devices can
// change between sessions, so nothing is cached here.
func (d *DeviceService) ListOutputDevices(ctx context.Context) ([]domain.DeviceDescriptor, error) {
	return d.source.ListOutputDevices(ctx)
}

// SelectOutputDevice routes remote audio of every currently connected link
// to the given sink. Applied from the session loop, so the switch is atomic
// with respect to link changes.
func (d *DeviceService) SelectOutputDevice(ctx context.Context, deviceID string) error {
	devices, err := d.source.ListOutputDevices(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, dev := range devices {
		if dev.ID == deviceID && dev.Kind == domain.DeviceAudioOutput {
			found = true
			break
		}
	}
	if !found {
		return domain.ErrDeviceUnavailable
	}

	session := d.manager.active()
	if session == nil || session.terminated() {
		return domain.ErrNoActiveCall
	}
	return session.do(ctx, func() error {
		for _, link := range session.links {
			if link.state != domain.LinkConnected {
				continue
			}
			if err := link.media.SetOutputDevice(deviceID); err != nil {
				d.logger.Warnw("set output device failed",
					"remote", link.remote, "device", deviceID, "error", err)
			}
		}
		return nil
	})
}

// SampleQuality is a non-blocking read of the most recent metric pushed by
// the participant's link.
func (d *DeviceService) SampleQuality(remote domain.ParticipantID) (domain.QualitySample, error) {
	session := d.manager.active()
	if session == nil {
		return domain.QualitySample{}, domain.ErrNotConnected
	}
	snap := session.snapshot()
	for _, link := range snap.Links {
		if link.Remote == remote {
			if link.LastQuality == nil || link.State != domain.LinkConnected {
				return domain.QualitySample{}, domain.ErrNotConnected
			}
			return *link.LastQuality, nil
		}
	}
	return domain.QualitySample{}, domain.ErrNotConnected
}
