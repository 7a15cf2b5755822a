package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/fiterafrica/fineract-template/domain"
)

type directory interface {
	TenantByID(ctx context.Context, id string) (domain.Tenant, error)
	UserByUsername(ctx context.Context, tenantID, username string) (domain.User, error)
}

// CachedDirectory keeps tenant settings in Redis. Users are always read
// from the backing directory so permission changes apply to the next
// command.
type CachedDirectory struct {
	base  directory
	redis *redis.Client
	ttl   time.Duration
}

// NewCachedDirectory wraps base. A nil client or a zero TTL disables
// caching.
func NewCachedDirectory(base directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if base == nil {
		panic("storage.NewCachedDirectory: base directory is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CachedDirectory{base: base, redis: client, ttl: ttl}
}

func (c *CachedDirectory) TenantByID(ctx context.Context, id string) (domain.Tenant, error) {
	if t, ok := c.loadTenant(ctx, id); ok {
		return t, nil
	}
	t, err := c.base.TenantByID(ctx, id)
	if err != nil {
		return domain.Tenant{}, err
	}
	c.storeTenant(ctx, t)
	return t, nil
}

func (c *CachedDirectory) UserByUsername(ctx context.Context, tenantID, username string) (domain.User, error) {
	return c.base.UserByUsername(ctx, tenantID, username)
}

// Evict drops the cached settings of a tenant.
func (c *CachedDirectory) Evict(ctx context.Context, tenantID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, tenantCacheKey(tenantID)).Err()
}

func (c *CachedDirectory) loadTenant(ctx context.Context, id string) (domain.Tenant, bool) {
	if c.redis == nil {
		return domain.Tenant{}, false
	}
	data, err := c.redis.Get(ctx, tenantCacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tenantCacheKey(id)).Err()
		}
		return domain.Tenant{}, false
	}
	var t domain.Tenant
	if err := sonic.Unmarshal(data, &t); err != nil {
		_ = c.redis.Del(ctx, tenantCacheKey(id)).Err()
		return domain.Tenant{}, false
	}
	return t, true
}

func (c *CachedDirectory) storeTenant(ctx context.Context, t domain.Tenant) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(t)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, tenantCacheKey(t.ID), data, c.ttl).Err()
}

func tenantCacheKey(id string) string {
	return "tenant:" + id
}
