package domain

import "encoding/json"

// SignalKind tags the variant of a signaling message.
type SignalKind string

const (
	SignalJoin      SignalKind = "join"
	SignalLeave     SignalKind = "leave"
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalBye       SignalKind = "bye"
	SignalError     SignalKind = "error"
)

// SignalingMessage is the transient control message exchanged over the
// channel's signaling topic. Never persisted. Seq is monotonic per sender
// and lets receivers discard duplicate or stale offers/candidates, since
// the adapter only guarantees at-least-once delivery.
type SignalingMessage struct {
	Kind    SignalKind      `json:"kind"`
	Channel ChannelID       `json:"channel"`
	From    ParticipantID   `json:"from"`
	To      ParticipantID   `json:"to,omitempty"` // empty = broadcast
	Seq     uint64          `json:"seq"`
	Token   string          `json:"token,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AddressedTo reports whether the message should be processed by local.
// Broadcast messages (empty To) address everyone but the sender.
func (m SignalingMessage) AddressedTo(local ParticipantID) bool {
	if m.From == local {
		return false
	}
	return m.To == "" || m.To == local
}

type OfferPayload struct {
	SDP  string   `json:"sdp"`
	Mode CallMode `json:"mode,omitempty"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

type ByePayload struct {
	Reason string `json:"reason,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EncodePayload marshals a typed payload into a message body.
func EncodePayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
