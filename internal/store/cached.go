package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"encchat/internal/cache"
	"encchat/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// CachedStore 在 MessageStore 之前加一层最近消息缓存。
// 缓存故障只记录日志，读写都回落到底层存储。
type CachedStore struct {
	inner MessageStore
	cache cache.RecentCache
	ttl   time.Duration
	sf    singleflight.Group
}

func NewCachedStore(inner MessageStore, c cache.RecentCache, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, cache: c, ttl: ttl}
}

func (s *CachedStore) Append(ctx context.Context, room, sender string, ciphertext []byte, ts time.Time) (uint, error) {
	id, err := s.inner.Append(ctx, room, sender, ciphertext, ts)
	if err != nil {
		return 0, err
	}
	// 必须在写库成功之后递增版本，读路径先读版本再查库。
	if err := s.cache.Bump(ctx, room); err != nil {
		log.Warn().Err(err).Str("room", room).Msg("history cache bump")
	}
	return id, nil
}

func (s *CachedStore) QueryRecent(ctx context.Context, room string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	version, err := s.cache.Version(ctx, room)
	if err != nil {
		log.Warn().Err(err).Str("room", room).Msg("history cache version")
		return s.inner.QueryRecent(ctx, room, limit)
	}

	key := fmt.Sprintf("%d:%d:%s", version, limit, room)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		rows, err := s.cache.Get(ctx, room, version, limit)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn().Err(err).Str("room", room).Msg("history cache get")
		}
		rows, err = s.inner.QueryRecent(ctx, room, limit)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, room, version, limit, rows, s.ttl); err != nil {
			log.Warn().Err(err).Str("room", room).Msg("history cache set")
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	rows, ok := v.([]models.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// singleflight 的调用方共享同一个切片，返回副本以免调用方互相影响。
	return append([]models.Message(nil), rows...), nil
}
