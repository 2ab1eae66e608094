package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ключи неймспейсятся, чтобы не пересекаться с очередями в том же Redis.
const keyPrefix = "fanpilot:"

// RedisCache реализует domain.Cache через Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedis создаёт кэш поверх готового клиента.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, только если ключ ещё не занят. Ключ
// захватывается через SETNX; при ошибке функции ключ освобождается,
// чтобы повторная доставка могла пройти.
func (c *RedisCache) Once(key string, ttl time.Duration, fn func() error) error {
	ctx := context.Background()
	ok, err := c.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, keyPrefix+key).Err()
		return err
	}
	return nil
}

// Set задаёт значение с TTL.
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	return c.client.Set(context.Background(), keyPrefix+key, value, ttl).Err()
}

// Get возвращает значение ключа.
func (c *RedisCache) Get(key string) ([]byte, error) {
	return c.client.Get(context.Background(), keyPrefix+key).Bytes()
}
