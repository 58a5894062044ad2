package directory

import (
	"context"
	"testing"

	"callmesh/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDirectoryListsSortedMembers(t *testing.T) {
	d := NewMemoryDirectory()
	d.Join("room-1", "carol")
	d.Join("room-1", "alice")
	d.Join("room-1", "bob")
	d.Join("room-2", "dave")

	members, err := d.ListReachableParticipants(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantID{"alice", "bob", "carol"}, members)
}

func TestMemoryDirectoryLeave(t *testing.T) {
	d := NewMemoryDirectory()
	d.Join("room-1", "alice")
	d.Join("room-1", "bob")
	d.Leave("room-1", "alice")

	members, err := d.ListReachableParticipants(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantID{"bob"}, members)
}

func TestMemoryDirectoryEmptyChannel(t *testing.T) {
	d := NewMemoryDirectory()
	members, err := d.ListReachableParticipants(context.Background(), "nowhere")
	require.NoError(t, err)
	assert.Empty(t, members)
}
