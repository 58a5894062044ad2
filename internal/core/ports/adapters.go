package ports

import (
	"context"

	"callmesh/internal/core/domain"
)

// SignalingAdapter is the bidirectional control-message conduit, scoped per
// channel id. Built on the external chat transport; the core treats it as a
// pub/sub topic. Delivery is at-least-once; ordering is only guaranteed
// within one (from, to) pair.
type SignalingAdapter interface {
	// Subscribe opens the channel's topic and returns the inbound stream.
	// The stream is closed on Unsubscribe or when the adapter loses the
	// underlying transport.
	Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error)
	// Publish sends a message to all current subscribers of the channel.
	// Returns domain.ErrAuthExpired when the transport rejects the
	// attached token.
	Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error
	Unsubscribe(channel domain.ChannelID) error
}

// MembershipDirectory is the external channel membership service. Queried
// once when a session enters Requesting and re-queried on join signals.
type MembershipDirectory interface {
	ListReachableParticipants(ctx context.Context, channel domain.ChannelID) ([]domain.ParticipantID, error)
}

// Identity is the authenticated local participant plus the opaque token
// attached to every published signaling message.
type Identity struct {
	Participant domain.ParticipantID
	Token       string
}

// IdentityProvider supplies the local identity. The core never refreshes
// tokens itself; a rejected publish surfaces domain.ErrAuthExpired upward.
type IdentityProvider interface {
	Identity(ctx context.Context) (Identity, error)
}

// TransportState is the connectivity state reported by the media layer for
// one link.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// MediaLink is one local-to-remote media connection as exposed by the
// underlying transport. Codec negotiation internals stay behind this
// interface. Callbacks may fire on transport goroutines; registering them
// before the first negotiation step is the caller's responsibility.
type MediaLink interface {
	// CreateOffer produces the local session description for the initial
	// exchange or a renegotiation.
	CreateOffer(ctx context.Context) (string, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(ctx context.Context, sdp string) (string, error)
	AcceptAnswer(ctx context.Context, sdp string) error
	AddRemoteCandidate(candidate string) error
	// RestartICE re-attempts connectivity on the existing link and returns
	// the restart offer to signal to the remote side.
	RestartICE(ctx context.Context) (string, error)
	// SetMode attaches or detaches the video sender. The caller follows up
	// with CreateOffer to renegotiate.
	SetMode(ctx context.Context, mode domain.CallMode) error
	SetMuted(muted bool) error
	// SetOutputDevice routes this link's remote audio to the given sink.
	SetOutputDevice(deviceID string) error
	OnCandidate(fn func(candidate string))
	OnStateChange(fn func(state TransportState))
	OnQuality(fn func(sample domain.QualitySample))
	OnRemoteTrack(fn func())
	Close() error
}

// MediaTransport creates media links. Implemented on pion in
// internal/infrastructure/webrtc.
type MediaTransport interface {
	NewLink(ctx context.Context, mode domain.CallMode) (MediaLink, error)
}

// DeviceSource enumerates the platform's audio output devices. Re-queried
// on every facade call; devices can change between sessions.
type DeviceSource interface {
	ListOutputDevices(ctx context.Context) ([]domain.DeviceDescriptor, error)
}

// Metrics receives operational measurements from the call core. A nil-safe
// no-op implementation is used when monitoring is disabled.
type Metrics interface {
	SessionStarted(mode domain.CallMode)
	SessionEnded(state domain.SessionState, reason domain.FailReason)
	NegotiationCompleted(seconds float64, connectedLinks int)
	LinkStateChanged(state domain.LinkState)
	// LinkRemoved fires when a participant's link is erased so per-remote
	// series do not outlive the link.
	LinkRemoved(remote domain.ParticipantID)
	ICERestartAttempted()
	QualitySampled(remote domain.ParticipantID, sample domain.QualitySample)
}
