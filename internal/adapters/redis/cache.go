package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// Claim marks a spent payment so a replayed header is refused on every
// instance. It reports false when the payment was already claimed.
func (c *Cache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res := c.client.SetNX(ctx, "x402:"+key, time.Now().UTC().Format(time.RFC3339), ttl)
	return res.Val(), res.Err()
}

func (c *Cache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, "x402:"+key).Err()
}
