package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisTopicPrefix = "callmesh:signal:"

// RedisAdapter rides signaling on redis pub/sub, one topic per channel id.
// Delivery is at-least-once from the core's point of view; the session
// layer deduplicates by sequence number.
type RedisAdapter struct {
	client *redis.Client
	logger *zap.SugaredLogger

	mu   sync.Mutex
	subs map[domain.ChannelID]*redisSubscription
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan domain.SignalingMessage
	cancel context.CancelFunc
}

// NewRedisClient creates a Redis client with connection pooling and checks
// connectivity.
func NewRedisClient(address, password string, db, poolSize int, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis", "address", address, "db", db, "pool_size", poolSize)
	}
	return client, nil
}

func NewRedisAdapter(client *redis.Client, logger *zap.SugaredLogger) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		logger: logger,
		subs:   make(map[domain.ChannelID]*redisSubscription),
	}
}

var _ ports.SignalingAdapter = (*RedisAdapter)(nil)

func (r *RedisAdapter) Subscribe(ctx context.Context, channel domain.ChannelID) (<-chan domain.SignalingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[channel]; ok {
		return nil, fmt.Errorf("subscribe %s: already subscribed", channel)
	}

	pubsub := r.client.Subscribe(ctx, redisTopicPrefix+string(channel))
	// Force the subscription onto the wire before we report success.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, domain.ErrSignalingUnavailable)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan domain.SignalingMessage, 64),
		cancel: cancel,
	}
	r.subs[channel] = sub

	go r.drain(subCtx, channel, sub)
	return sub.out, nil
}

func (r *RedisAdapter) drain(ctx context.Context, channel domain.ChannelID, sub *redisSubscription) {
	defer close(sub.out)
	in := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				// Pubsub closed underneath us: lost the signaling plane.
				return
			}
			var msg domain.SignalingMessage
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				r.logger.Warnw("dropping malformed signaling message",
					"channel", channel, "error", err)
				continue
			}
			select {
			case sub.out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *RedisAdapter) Publish(ctx context.Context, channel domain.ChannelID, msg domain.SignalingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal signaling message: %w", err)
	}
	if err := r.client.Publish(ctx, redisTopicPrefix+string(channel), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, domain.ErrSignalingUnavailable)
	}
	return nil
}

func (r *RedisAdapter) Unsubscribe(channel domain.ChannelID) error {
	r.mu.Lock()
	sub, ok := r.subs[channel]
	delete(r.subs, channel)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sub.cancel()
	return sub.pubsub.Close()
}
