package signal

import (
	"context"
	"fmt"
	"sync"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
)

// MemoryAdapter is an in-process signaling fabric: one fan-out topic per
// channel id. Used in single-process deployments and as the test fabric for
// multi-participant scenarios.
type MemoryAdapter struct {
	mu     sync.Mutex
	subs   map[domain.ChannelID]chan domain.SignalingMessage
	fabric *memoryFabric
	closed bool
}

// memoryFabric is the shared topic table connecting adapters created from
// the same fabric.
type memoryFabric struct {
	mu     sync.Mutex
	topics map[domain.ChannelID]map[*MemoryAdapter]chan domain.SignalingMessage
}

// NewMemoryFabric creates the shared fabric. Each participant gets its own
// adapter via Adapter().
func NewMemoryFabric() *Fabric {
	return &Fabric{inner: &memoryFabric{
		topics: make(map[domain.ChannelID]map[*MemoryAdapter]chan domain.SignalingMessage),
	}}
}

// Fabric hands out per-participant adapters sharing one topic table.
type Fabric struct {
	inner *memoryFabric
}

func (f *Fabric) Adapter() *MemoryAdapter {
	return &MemoryAdapter{
		fabric: f.inner,
		subs:   make(map[domain.ChannelID]chan domain.SignalingMessage),
	}
}

var _ ports.SignalingAdapter = (*MemoryAdapter)(nil)

func (a *MemoryAdapter) Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("subscribe %s: %w", channel, domain.ErrSignalingUnavailable)
	}
	if _, ok := a.subs[channel]; ok {
		return nil, fmt.Errorf("subscribe %s: already subscribed", channel)
	}

	ch := make(chan domain.SignalingMessage, 64)
	a.subs[channel] = ch

	a.fabric.mu.Lock()
	subs, ok := a.fabric.topics[channel]
	if !ok {
		subs = make(map[*MemoryAdapter]chan domain.SignalingMessage)
		a.fabric.topics[channel] = subs
	}
	subs[a] = ch
	a.fabric.mu.Unlock()

	return ch, nil
}

func (a *MemoryAdapter) Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("publish %s: %w", channel, domain.ErrSignalingUnavailable)
	}
	a.mu.Unlock()

	a.fabric.mu.Lock()
	subs := a.fabric.topics[channel]
	targets := make([]chan domain.SignalingMessage, 0, len(subs))
	for sub, ch := range subs {
		if sub == a {
			continue // senders do not hear themselves
		}
		targets = append(targets, ch)
	}
	a.fabric.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (a *MemoryAdapter) Unsubscribe(channel domain.ChannelID) error {
	a.mu.Lock()
	ch, ok := a.subs[channel]
	delete(a.subs, channel)
	a.mu.Unlock()
	if !ok {
		return nil
	}

	a.fabric.mu.Lock()
	if subs, ok := a.fabric.topics[channel]; ok {
		delete(subs, a)
		if len(subs) == 0 {
			delete(a.fabric.topics, channel)
		}
	}
	a.fabric.mu.Unlock()

	close(ch)
	return nil
}

// Close drops every subscription; subsequent calls fail with
// SignalingUnavailable. Used by tests to simulate signaling loss.
func (a *MemoryAdapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	channels := make([]domain.ChannelID, 0, len(a.subs))
	for ch := range a.subs {
		channels = append(channels, ch)
	}
	a.mu.Unlock()

	for _, ch := range channels {
		_ = a.Unsubscribe(ch)
	}
}
