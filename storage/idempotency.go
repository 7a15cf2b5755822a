package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClaims stores async idempotency keys in Redis so all API instances
// hand out the same correlation id for a repeated submission.
type RedisClaims struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClaims(client *redis.Client, ttl time.Duration) *RedisClaims {
	return &RedisClaims{client: client, ttl: ttl}
}

func (r *RedisClaims) key(tenantID, key string) string {
	return fmt.Sprintf("idem:%s:%s", tenantID, key)
}

// Claim records correlationID for key if no submission holds it yet. It
// returns the correlation id that owns the key and whether it is ours.
func (r *RedisClaims) Claim(ctx context.Context, tenantID, key, correlationID string) (string, bool, error) {
	k := r.key(tenantID, key)
	ok, err := r.client.SetNX(ctx, k, correlationID, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return correlationID, true, nil
	}
	existing, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// expired between the two calls
		return r.Claim(ctx, tenantID, key, correlationID)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

// Release deletes a claim so the submission can be retried.
func (r *RedisClaims) Release(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, r.key(tenantID, key)).Err()
}
