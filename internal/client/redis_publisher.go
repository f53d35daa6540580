package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-doc-approvals/internal/service"
)

// RedisPubSub is the part of *redis.Client the event publisher uses.
type RedisPubSub interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewRedisClient opens a Redis client. The connection is lazy.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisEventPublisher fans assignment events out on a Redis channel for
// other service instances and UI gateways.
type RedisEventPublisher struct {
	rdb     RedisPubSub
	channel string
	log     zerolog.Logger
}

// NewRedisEventPublisher creates a publisher on channel.
func NewRedisEventPublisher(rdb RedisPubSub, channel string, log zerolog.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		rdb:     rdb,
		channel: channel,
		log:     log.With().Str("component", "redis_events").Logger(),
	}
}

// Publish sends e as JSON.
func (p *RedisEventPublisher) Publish(ctx context.Context, e service.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, data).Err()
}

// HandleEvent is a service.EventHandler. Failures are logged only.
func (p *RedisEventPublisher) HandleEvent(e service.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := p.Publish(ctx, e); err != nil {
		p.log.Warn().Err(err).
			Str("channel", p.channel).
			Str("assignment_id", e.AssignmentID).
			Msg("failed to publish event to redis (non-fatal)")
	}
}
