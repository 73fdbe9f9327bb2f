package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the Pub/Sub channel outcome events go to.
const DefaultRedisChannel = "orderbridge:events"

// RedisSink publishes events as JSON over Redis Pub/Sub.
type RedisSink struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisSink(rdb redis.UniversalClient, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
