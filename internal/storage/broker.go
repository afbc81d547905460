package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// ErrNoBroker is returned by the pub/sub methods when Redis is not configured.
var ErrNoBroker = errors.New("storage: redis broker not configured")

// ChatChannel is the pub/sub channel of a chat.
func ChatChannel(chatID string) string { return "chat:" + chatID }

// UserChannel is the personal pub/sub channel of a user.
func UserChannel(userID string) string { return "user:" + userID }

// PublishEvent публікує подію в Redis Pub/Sub
func (s *Service) PublishEvent(ctx context.Context, channel string, payload []byte) error {
	if s.Redis == nil {
		return ErrNoBroker
	}
	return s.Redis.Publish(ctx, channel, payload).Err()
}

// SubscribeEvents subscribes to channel patterns, e.g. "chat:*".
func (s *Service) SubscribeEvents(ctx context.Context, patterns ...string) *redis.PubSub {
	return s.Redis.PSubscribe(ctx, patterns...)
}
