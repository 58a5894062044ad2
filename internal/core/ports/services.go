package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// CallManager is the process-wide registry tracking at most one local call
// session. Commands return immediately; negotiation progress is reported
// through Events.
type CallManager interface {
	// Start creates a call session for the channel. Fails with
	// domain.ErrAlreadyInCall while a non-terminal session exists and with
	// domain.ErrInvalidArgument on empty ids or an unknown mode.
	Start(ctx context.Context, channel domain.ChannelID, local domain.ParticipantID, mode domain.CallMode) (domain.SessionSnapshot, error)
	// End tears down the current session. Idempotent: a no-op without an
	// active session, never an error.
	End(ctx context.Context)
	// SwitchMode renegotiates every link's media kind. Valid only while the
	// session is Negotiating or Active; domain.ErrNoActiveCall otherwise.
	SwitchMode(ctx context.Context, mode domain.CallMode) error
	// SetMuted toggles the local audio sender on every link.
	SetMuted(ctx context.Context, muted bool) error
	// SetPictureInPicture flips the UI continuity flag on the session. No
	// effect on signaling.
	SetPictureInPicture(on bool) error
	// Snapshot returns the current session view, false when none exists.
	Snapshot() (domain.SessionSnapshot, bool)
	Events() <-chan domain.CallEvent
}

// DeviceFacade serves the options UI: speaker selection and per-link
// connection diagnostics.
type DeviceFacade interface {
	ListOutputDevices(ctx context.Context) ([]domain.DeviceDescriptor, error)
	// SelectOutputDevice applies the sink to every currently connected link
	// of the active session. domain.ErrDeviceUnavailable when the id no
	// longer enumerates.
	SelectOutputDevice(ctx context.Context, deviceID string) error
	// SampleQuality returns the most recent metric pushed by the given
	// participant's link. domain.ErrNotConnected when there is no connected
	// link for the participant.
	SampleQuality(remote domain.ParticipantID) (domain.QualitySample, error)
}
