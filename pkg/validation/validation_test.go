package validation

import (
	"strings"
	"testing"
)

func TestValidateChannelID(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantErr bool
	}{
		{"valid channel", "room-1", false},
		{"valid with dots", "team.general", false},
		{"valid with underscore", "dev_standup", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 129), true},
		{"invalid chars", "room 1", true},
		{"invalid chars 2", "room/1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannelID(tt.channel)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChannelID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParticipantID(t *testing.T) {
	tests := []struct {
		name        string
		participant string
		wantErr     bool
	}{
		{"valid participant", "alice", false},
		{"valid with at", "alice@example.com", false},
		{"valid with dash", "alice-laptop", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"invalid chars", "alice bob", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParticipantID(tt.participant)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateParticipantID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
	}{
		{"valid device", "spk-1", false},
		{"valid platform path", "alsa:hw:0/analog-stereo", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 257), true},
		{"invalid chars", "spk 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.deviceID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDeviceLabel(t *testing.T) {
	if err := ValidateDeviceLabel("Built-in Speakers"); err != nil {
		t.Errorf("ValidateDeviceLabel() unexpected error: %v", err)
	}
	if err := ValidateDeviceLabel(strings.Repeat("x", 257)); err == nil {
		t.Error("ValidateDeviceLabel() expected error for oversized label")
	}
}
