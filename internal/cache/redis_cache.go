package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"encchat/internal/models"

	"github.com/redis/go-redis/v9"
)

// 版本号键保留时间，超过后版本回到 0，旧页面早已按 TTL 过期。
const versionTTL = 24 * time.Hour

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(addr, password string, db int, prefix string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

// 房间名不可信且可能包含冒号，放在键的最后一段以避免歧义。
func (c *RedisCache) versionKey(room string) string {
	return fmt.Sprintf("%s:ver:%s", c.prefix, room)
}

func (c *RedisCache) pageKey(room string, version int64, limit int) string {
	return fmt.Sprintf("%s:page:%d:%d:%s", c.prefix, version, limit, room)
}

func (c *RedisCache) Version(ctx context.Context, room string) (int64, error) {
	v, err := c.client.Get(ctx, c.versionKey(room)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get version from redis: %w", err)
	}
	return v, nil
}

func (c *RedisCache) Bump(ctx context.Context, room string) error {
	key := c.versionKey(room)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, versionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to bump version in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, room string, version int64, limit int) ([]models.Message, error) {
	data, err := c.client.Get(ctx, c.pageKey(room, version, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rows []models.Message
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return rows, nil
}

func (c *RedisCache) Set(ctx context.Context, room string, version int64, limit int, rows []models.Message, ttl time.Duration) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}
	if err := c.client.Set(ctx, c.pageKey(room, version, limit), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
