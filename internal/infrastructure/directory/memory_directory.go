package directory

import (
	"context"
	"sort"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// MemoryDirectory tracks channel membership in process. Single-process
// deployments and tests register participants directly; production setups
// point the core at the redis directory instead.
type MemoryDirectory struct {
	mu       sync.RWMutex
	channels map[domain.ChannelID]map[domain.ParticipantID]struct{}
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		channels: make(map[domain.ChannelID]map[domain.ParticipantID]struct{}),
	}
}

var _ ports.MembershipDirectory = (*MemoryDirectory)(nil)

func (d *MemoryDirectory) Join(channel domain.ChannelID, participant domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	members, ok := d.channels[channel]
	if !ok {
		members = make(map[domain.ParticipantID]struct{})
		d.channels[channel] = members
	}
	members[participant] = struct{}{}
}

func (d *MemoryDirectory) Leave(channel domain.ChannelID, participant domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if members, ok := d.channels[channel]; ok {
		delete(members, participant)
		if len(members) == 0 {
			delete(d.channels, channel)
		}
	}
}

func (d *MemoryDirectory) ListReachableParticipants(ctx context.Context, channel domain.ChannelID) ([]domain.ParticipantID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := d.channels[channel]
	out := make([]domain.ParticipantID, 0, len(members))
	for p := range members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
