package domain

import "errors"

var (
	ErrAlreadyInCall        = errors.New("already in a call")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNoActiveCall         = errors.New("no active call")
	ErrDeviceUnavailable    = errors.New("device unavailable")
	ErrAuthExpired          = errors.New("auth token expired")
	ErrSignalingUnavailable = errors.New("signaling unavailable")
	ErrNegotiationTimeout   = errors.New("negotiation timeout")
	ErrPeerUnreachable      = errors.New("peer unreachable")
	ErrNotConnected         = errors.New("peer not connected")
)
