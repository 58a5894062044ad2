package services

import (
	"context"
	"errors"
	"testing"

	"callmesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRejectsInvalidArguments(t *testing.T) {
	h := newCallHarness(testConfig())
	ctx := context.Background()

	_, err := h.manager.Start(ctx, "", "alice", domain.CallModeAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.manager.Start(ctx, "room-1", "", domain.CallModeAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = h.manager.Start(ctx, "room-1", "alice", domain.CallMode("hologram"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStartRejectsIdentityMismatch(t *testing.T) {
	h := newCallHarness(testConfig())
	h.identity.ident.Participant = "alice"

	_, err := h.manager.Start(context.Background(), "room-1", "mallory", domain.CallModeAudio)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestStartPropagatesIdentityError(t *testing.T) {
	h := newCallHarness(testConfig())
	h.identity.err = errors.New("token store offline")

	_, err := h.manager.Start(context.Background(), "room-1", "alice", domain.CallModeAudio)
	require.Error(t, err)
}

func TestStartTwiceReturnsAlreadyInCall(t *testing.T) {
	h := newCallHarness(testConfig(), "bob")
	ctx := context.Background()

	snap, err := h.manager.Start(ctx, "room-1", "alice", domain.CallModeAudio)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID("room-1"), snap.Channel)

	_, err = h.manager.Start(ctx, "room-2", "alice", domain.CallModeVideo)
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)
}

func TestStartAfterEndSucceeds(t *testing.T) {
	h := newCallHarness(testConfig(), "bob")
	ctx := context.Background()

	_, err := h.manager.Start(ctx, "room-1", "alice", domain.CallModeAudio)
	require.NoError(t, err)

	h.manager.End(ctx)
	waitState(t, h.manager, domain.SessionEnded)

	_, err = h.manager.Start(ctx, "room-2", "alice", domain.CallModeVideo)
	require.NoError(t, err)
}

func TestEndWithoutCallIsNoop(t *testing.T) {
	h := newCallHarness(testConfig())
	h.manager.End(context.Background())

	_, ok := h.manager.Snapshot()
	assert.False(t, ok)
}

func TestCommandsWithoutCallReturnNoActiveCall(t *testing.T) {
	h := newCallHarness(testConfig())
	ctx := context.Background()

	assert.ErrorIs(t, h.manager.SwitchMode(ctx, domain.CallModeVideo), domain.ErrNoActiveCall)
	assert.ErrorIs(t, h.manager.SetMuted(ctx, true), domain.ErrNoActiveCall)
	assert.ErrorIs(t, h.manager.SetPictureInPicture(true), domain.ErrNoActiveCall)
}

func TestSwitchModeRejectsUnknownMode(t *testing.T) {
	h := newCallHarness(testConfig(), "bob")
	ctx := context.Background()

	_, err := h.manager.Start(ctx, "room-1", "alice", domain.CallModeAudio)
	require.NoError(t, err)

	assert.ErrorIs(t, h.manager.SwitchMode(ctx, domain.CallMode("hologram")), domain.ErrInvalidArgument)
}

func TestSnapshotReportsSessionView(t *testing.T) {
	h := newCallHarness(testConfig(), "bob")
	ctx := context.Background()

	_, ok := h.manager.Snapshot()
	assert.False(t, ok)

	started, err := h.manager.Start(ctx, "room-1", "alice", domain.CallModeVideo)
	require.NoError(t, err)
	require.NotEmpty(t, started.ID)

	snap, ok := h.manager.Snapshot()
	require.True(t, ok)
	assert.Equal(t, started.ID, snap.ID)
	assert.Equal(t, domain.CallModeVideo, snap.Mode)
	assert.Equal(t, domain.ParticipantID("alice"), snap.Local)
}
