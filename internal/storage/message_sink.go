package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dhruvsoni1802/browser-gateway/internal/gateway"
)

// DefaultMessageHistory caps the mirrored message list
const DefaultMessageHistory = 1000

// MessageSink publishes every recorded protocol message to a Redis channel
// and keeps the most recent ones in a capped list next to it.
type MessageSink struct {
	redis   *RedisClient
	channel string
	listKey string
	limit   int64
}

var _ gateway.MessageSink = (*MessageSink)(nil)

// NewMessageSink publishes on channel and keeps limit messages under channel+":history"
func NewMessageSink(redisClient *RedisClient, channel string, limit int) *MessageSink {
	if limit <= 0 {
		limit = DefaultMessageHistory
	}
	return &MessageSink{
		redis:   redisClient,
		channel: channel,
		listKey: channel + ":history",
		limit:   int64(limit),
	}
}

// Publish sends msg to subscribers and the capped list in one round trip
func (s *MessageSink) Publish(ctx context.Context, msg gateway.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.redis.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, data)
		pipe.LPush(ctx, s.listKey, data)
		pipe.LTrim(ctx, s.listKey, 0, s.limit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.ID, err)
	}
	return nil
}

// Recent returns up to n mirrored messages, newest first
func (s *MessageSink) Recent(ctx context.Context, n int) ([]gateway.Message, error) {
	if n <= 0 {
		return nil, nil
	}

	items, err := s.redis.client.LRange(ctx, s.listKey, 0, int64(n)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message history: %w", err)
	}

	messages := make([]gateway.Message, 0, len(items))
	for _, item := range items {
		var msg gateway.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode mirrored message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
