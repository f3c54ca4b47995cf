package store

import (
	"context"
	"time"

	"encchat/internal/models"

	"gorm.io/gorm"
)

// MessageStore 只追加、按房间查询最近消息，不提供更新或删除。
type MessageStore interface {
	Append(ctx context.Context, room, sender string, ciphertext []byte, ts time.Time) (uint, error)
	// QueryRecent 返回房间内最新的至多 limit 条记录，按 id 倒序。
	QueryRecent(ctx context.Context, room string, limit int) ([]models.Message, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Append(ctx context.Context, room, sender string, ciphertext []byte, ts time.Time) (uint, error) {
	msg := models.Message{Room: room, Sender: sender, Ciphertext: ciphertext, CreatedAt: ts}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (s *GormStore) QueryRecent(ctx context.Context, room string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("room = ?", room).Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
