package publish

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/fiterafrica/fineract-template/domain"
)

// RedisSink publishes every outcome to one pub/sub channel. Consumers tell
// results and failures apart by the status field.
type RedisSink struct {
	rc      *redis.Client
	channel string
}

func NewRedisSink(rc *redis.Client, channel string) *RedisSink {
	return &RedisSink{rc: rc, channel: channel}
}

func (s *RedisSink) PublishResult(ctx context.Context, msg domain.Message) error {
	return s.publish(ctx, msg)
}

func (s *RedisSink) PublishError(ctx context.Context, msg domain.Message) error {
	return s.publish(ctx, msg)
}

func (s *RedisSink) publish(ctx context.Context, msg domain.Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.rc.Publish(ctx, s.channel, payload).Err()
}
