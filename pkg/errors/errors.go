package errors

import (
	"errors"
	"net/http"

	"callmesh/internal/core/domain"
)

// Code is the wire-level error code surfaced to the UI layer.
type Code string

const (
	CodeAlreadyInCall        Code = "ALREADY_IN_CALL"
	CodeInvalidArgument      Code = "INVALID_ARGUMENT"
	CodeNoActiveCall         Code = "NO_ACTIVE_CALL"
	CodeDeviceUnavailable    Code = "DEVICE_UNAVAILABLE"
	CodeAuthExpired          Code = "AUTH_EXPIRED"
	CodeSignalingUnavailable Code = "SIGNALING_UNAVAILABLE"
	CodeNegotiationTimeout   Code = "NEGOTIATION_TIMEOUT"
	CodePeerUnreachable      Code = "PEER_UNREACHABLE"
	CodeNotConnected         Code = "NOT_CONNECTED"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// mapping pairs a domain sentinel with its wire code and HTTP status.
var mapping = []struct {
	err    error
	code   Code
	status int
}{
	{domain.ErrAlreadyInCall, CodeAlreadyInCall, http.StatusConflict},
	{domain.ErrInvalidArgument, CodeInvalidArgument, http.StatusBadRequest},
	{domain.ErrNoActiveCall, CodeNoActiveCall, http.StatusConflict},
	{domain.ErrDeviceUnavailable, CodeDeviceUnavailable, http.StatusNotFound},
	{domain.ErrAuthExpired, CodeAuthExpired, http.StatusUnauthorized},
	{domain.ErrSignalingUnavailable, CodeSignalingUnavailable, http.StatusServiceUnavailable},
	{domain.ErrNegotiationTimeout, CodeNegotiationTimeout, http.StatusGatewayTimeout},
	{domain.ErrPeerUnreachable, CodePeerUnreachable, http.StatusBadGateway},
	{domain.ErrNotConnected, CodeNotConnected, http.StatusNotFound},
}

// Classify resolves an error (possibly wrapped) to its wire code and HTTP
// status. Unknown errors are internal.
func Classify(err error) (Code, int) {
	for _, m := range mapping {
		if errors.Is(err, m.err) {
			return m.code, m.status
		}
	}
	return CodeInternal, http.StatusInternalServerError
}

// Response is the JSON error body returned by the command API.
type Response struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// ToResponse builds the wire error body for an error.
func ToResponse(err error) (Response, int) {
	code, status := Classify(err)
	msg := err.Error()
	if code == CodeInternal {
		// Do not leak internals to the UI.
		msg = "internal error"
	}
	return Response{Code: code, Message: msg}, status
}
