package directory

import (
	"context"
	"fmt"
	"sort"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const membersKeyPrefix = "callmesh:members:"

// RedisDirectory reads channel membership from the set the chat backend
// maintains per channel. Join and Leave exist for deployments where this
// process is also the membership writer.
type RedisDirectory struct {
	client *redis.Client
}

func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

var _ ports.MembershipDirectory = (*RedisDirectory)(nil)

func membersKey(channel domain.ChannelID) string {
	return membersKeyPrefix + string(channel)
}

func (d *RedisDirectory) Join(ctx context.Context, channel domain.ChannelID, participant domain.ParticipantID) error {
	if err := d.client.SAdd(ctx, membersKey(channel), string(participant)).Err(); err != nil {
		return fmt.Errorf("failed to register membership: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Leave(ctx context.Context, channel domain.ChannelID, participant domain.ParticipantID) error {
	if err := d.client.SRem(ctx, membersKey(channel), string(participant)).Err(); err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return nil
}

func (d *RedisDirectory) ListReachableParticipants(ctx context.Context, channel domain.ChannelID) ([]domain.ParticipantID, error) {
	raw, err := d.client.SMembers(ctx, membersKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list channel members: %w", err)
	}

	out := make([]domain.ParticipantID, 0, len(raw))
	for _, m := range raw {
		out = append(out, domain.ParticipantID(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
