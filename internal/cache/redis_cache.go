package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fabirmss/notaFi/internal/domain"
)

type RedisListingCache struct {
	client *redis.Client
}

func NewRedisListingCache(addr string, password string, db int) *RedisListingCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisListingCache{client: client}
}

// Client exposes the underlying connection so other Redis-backed
// components can share it.
func (c *RedisListingCache) Client() *redis.Client {
	return c.client
}

func (c *RedisListingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisListingCache) Close() error {
	return c.client.Close()
}

func (c *RedisListingCache) Get(ctx context.Context, key string) ([]domain.Record, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	dec := json.NewDecoder(bytes.NewReader(val))
	dec.UseNumber()
	var rows []domain.Record
	if err := dec.Decode(&rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

func (c *RedisListingCache) Set(ctx context.Context, key string, rows []domain.Record, ttl time.Duration) error {
	if rows == nil {
		return nil
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisListingCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
