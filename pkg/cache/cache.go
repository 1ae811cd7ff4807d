// pkg/cache/cache.go
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nil is returned by Get when a key does not exist.
var Nil = redis.Nil

// Cache is the key-value collaborator contract: get/set/delete with TTL,
// atomic counters for velocity checks, and list ops backing the webhook
// retry queue and dead-letter list.
type Cache interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error)
	LPush(ctx context.Context, namespace, key string, value interface{}) error
	RPush(ctx context.Context, namespace, key string, value interface{}) error
	LPop(ctx context.Context, namespace, key string) (string, error)
	LLen(ctx context.Context, namespace, key string) (int64, error)
	LRange(ctx context.Context, namespace, key string, start, stop int64) ([]string, error)
}

// RedisCache wraps a redis client behind a circuit breaker. Works with both
// single-node and cluster deployments.
type RedisCache struct {
	client  redis.UniversalClient
	breaker *CircuitBreaker
}

func NewRedisCache(addrs []string, password string, useCluster bool, breaker *CircuitBreaker) *RedisCache {
	var rdb redis.UniversalClient
	if useCluster && len(addrs) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    addrs,
			Password: password,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addrs[0],
			Password: password,
			DB:       0,
		})
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultBreakerConfig())
	}
	return &RedisCache{client: rdb, breaker: breaker}
}

func (c *RedisCache) Breaker() *CircuitBreaker { return c.breaker }

func (c *RedisCache) Get(ctx context.Context, namespace, key string) (string, error) {
	var val string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		v, err := c.client.Get(ctx, namespace+":"+key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, namespace+":"+key, value, ttl).Err()
	})
}

func (c *RedisCache) Delete(ctx context.Context, namespace, key string) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.client.Del(ctx, namespace+":"+key).Err()
	})
}

// IncrWithExpire atomically increments a counter; the first increment also
// arms the expiry window.
func (c *RedisCache) IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	var cnt int64
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		countKey := namespace + ":" + key
		n, err := c.client.Incr(ctx, countKey).Result()
		if err != nil {
			return err
		}
		if n == 1 {
			_ = c.client.Expire(ctx, countKey, window).Err()
		}
		cnt = n
		return nil
	})
	return cnt, err
}

func (c *RedisCache) LPush(ctx context.Context, namespace, key string, value interface{}) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.client.LPush(ctx, namespace+":"+key, value).Err()
	})
}

func (c *RedisCache) RPush(ctx context.Context, namespace, key string, value interface{}) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.client.RPush(ctx, namespace+":"+key, value).Err()
	})
}

func (c *RedisCache) LPop(ctx context.Context, namespace, key string) (string, error) {
	var val string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		v, err := c.client.LPop(ctx, namespace+":"+key).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	return val, err
}

func (c *RedisCache) LLen(ctx context.Context, namespace, key string) (int64, error) {
	var n int64
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		v, err := c.client.LLen(ctx, namespace+":"+key).Result()
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	return n, err
}

func (c *RedisCache) LRange(ctx context.Context, namespace, key string, start, stop int64) ([]string, error) {
	var vals []string
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		v, err := c.client.LRange(ctx, namespace+":"+key, start, stop).Result()
		if err != nil {
			return err
		}
		vals = v
		return nil
	})
	return vals, err
}
