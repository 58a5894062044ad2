package domain

// EventKind tags the variant of a CallEvent.
type EventKind string

const (
	EventSessionState EventKind = "session_state"
	EventLinkState    EventKind = "link_state"
	EventQuality      EventKind = "quality"
)

// CallEvent is the typed notification emitted from the session's serialized
// loop and consumed by the UI adapter. Session is populated for
// EventSessionState; Participant plus LinkState or Quality for the others.
type CallEvent struct {
	Kind        EventKind       `json:"kind"`
	Session     SessionSnapshot `json:"session,omitempty"`
	Participant ParticipantID   `json:"participant,omitempty"`
	LinkState   LinkState       `json:"link_state,omitempty"`
	Quality     *QualitySample  `json:"quality,omitempty"`
}
