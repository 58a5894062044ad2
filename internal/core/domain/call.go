package domain

import "time"

type ChannelID string
type ParticipantID string
type SessionID string

// CallMode selects which media kinds a call carries. Switching between the
// two renegotiates existing links without changing their signaling identity.
type CallMode string

const (
	CallModeAudio CallMode = "audio"
	CallModeVideo CallMode = "video"
)

func (m CallMode) Valid() bool {
	return m == CallModeAudio || m == CallModeVideo
}

// SessionState is the call session lifecycle. Transitions are one-way;
// Ended and Failed are terminal.
type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionRequesting  SessionState = "requesting"
	SessionNegotiating SessionState = "negotiating"
	SessionActive      SessionState = "active"
	SessionEnding      SessionState = "ending"
	SessionEnded       SessionState = "ended"
	SessionFailed      SessionState = "failed"
)

// Terminal reports whether the session can never leave this state.
func (s SessionState) Terminal() bool {
	return s == SessionEnded || s == SessionFailed
}

// LinkState is the per-peer connection lifecycle.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkOffering     LinkState = "offering"
	LinkAnswering    LinkState = "answering"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkClosed       LinkState = "closed"
)

// FailReason is attached to the session-state-changed event when a session
// reaches Failed.
type FailReason string

const (
	FailReasonNone                 FailReason = ""
	FailReasonSignalingUnavailable FailReason = "signaling_unavailable"
	FailReasonNegotiationTimeout   FailReason = "negotiation_timeout"
	FailReasonAuthExpired          FailReason = "auth_expired"
)

// QualitySample is the most recent connectivity metric reported by a peer
// link. Read-only for consumers.
type QualitySample struct {
	RTT         time.Duration `json:"rtt"`
	Jitter      time.Duration `json:"jitter"`
	PacketLoss  float64       `json:"packet_loss"`
	BitrateKbps int           `json:"bitrate_kbps"`
	SampledAt   time.Time     `json:"sampled_at"`
}

type DeviceKind string

const DeviceAudioOutput DeviceKind = "audiooutput"

// DeviceDescriptor is a read-only snapshot of a platform output device.
type DeviceDescriptor struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

// LinkSnapshot is the externally visible view of one peer link.
type LinkSnapshot struct {
	Remote              ParticipantID  `json:"remote"`
	State               LinkState      `json:"state"`
	LocalMediaAttached  bool           `json:"local_media_attached"`
	RemoteMediaAttached bool           `json:"remote_media_attached"`
	LastQuality         *QualitySample `json:"last_quality,omitempty"`
}

// SessionSnapshot is an immutable copy of session state emitted with every
// session-state-changed event. The UI renders from snapshots only and never
// touches live session objects.
type SessionSnapshot struct {
	ID               SessionID       `json:"id"`
	Channel          ChannelID       `json:"channel"`
	Local            ParticipantID   `json:"local"`
	State            SessionState    `json:"state"`
	Mode             CallMode        `json:"mode"`
	PictureInPicture bool            `json:"picture_in_picture"`
	Participants     []ParticipantID `json:"participants"`
	Links            []LinkSnapshot  `json:"links"`
	Reason           FailReason      `json:"reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
