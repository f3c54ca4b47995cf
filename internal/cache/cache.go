package cache

import (
	"context"
	"errors"
	"time"

	"encchat/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

// RecentCache 缓存按房间倒序查询的最近消息行（只含密文）。
// 每个房间有一个版本号，写入新消息后递增；缓存键包含版本号，
// 因此递增之后旧页面自然失效，不需要逐键删除。
type RecentCache interface {
	Version(ctx context.Context, room string) (int64, error)
	Bump(ctx context.Context, room string) error
	Get(ctx context.Context, room string, version int64, limit int) ([]models.Message, error)
	Set(ctx context.Context, room string, version int64, limit int, rows []models.Message, ttl time.Duration) error
	Close() error
}
