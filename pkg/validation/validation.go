package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// ChannelIDRegex validates channel id format
	ChannelIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// ParticipantIDRegex validates participant id format
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

	// DeviceIDRegex validates platform device id format
	DeviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.\-/]+$`)
)

// ValidateChannelID validates a chat channel id
func ValidateChannelID(channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("channel is required")
	}
	if len(channel) > 128 {
		return fmt.Errorf("channel id is too long (max 128 characters)")
	}
	if !ChannelIDRegex.MatchString(channel) {
		return fmt.Errorf("channel id contains invalid characters (only letters, numbers, _, ., - allowed)")
	}
	return nil
}

// ValidateParticipantID validates a participant id
func ValidateParticipantID(participant string) error {
	participant = strings.TrimSpace(participant)
	if participant == "" {
		return fmt.Errorf("participant is required")
	}
	if len(participant) > 128 {
		return fmt.Errorf("participant id is too long (max 128 characters)")
	}
	if !ParticipantIDRegex.MatchString(participant) {
		return fmt.Errorf("participant id contains invalid characters")
	}
	return nil
}

// ValidateDeviceID validates a platform output device id
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if len(deviceID) > 256 {
		return fmt.Errorf("device id is too long (max 256 characters)")
	}
	if !DeviceIDRegex.MatchString(deviceID) {
		return fmt.Errorf("device id contains invalid characters")
	}
	return nil
}

// ValidateDeviceLabel validates a renderer-supplied device label
func ValidateDeviceLabel(label string) error {
	if len(label) > 256 {
		return fmt.Errorf("device label is too long (max 256 characters)")
	}
	return nil
}
