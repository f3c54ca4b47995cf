package service

import (
	"context"
	"fmt"
	"time"

	"encchat/internal/auth"
	"encchat/internal/crypt"
	"encchat/internal/metrics"
	"encchat/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryService 读取房间的历史消息并解密。
type HistoryService struct {
	verifier auth.Verifier
	cipher   crypt.Cipher
	store    store.MessageStore
}

func NewHistoryService(v auth.Verifier, c crypt.Cipher, s store.MessageStore) *HistoryService {
	return &HistoryService{verifier: v, cipher: c, store: s}
}

// HistoryEntry 是对外输出的明文消息。
type HistoryEntry struct {
	ID        uint      `json:"id"`
	Room      string    `json:"room"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History 校验 token 后返回 room 最近的至多 min(limit, 200) 条消息，按 id 升序。
// 任意一行解密失败都会让整个调用失败，不返回部分结果。
func (s *HistoryService) History(ctx context.Context, room, token string, limit int) ([]HistoryEntry, error) {
	out := s.verifier.Verify(token)
	if !out.OK() {
		metrics.HistoryRequestsTotal.WithLabelValues("unauthorized").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, out.Reason)
	}
	if limit <= 0 {
		metrics.HistoryRequestsTotal.WithLabelValues("ok").Inc()
		return []HistoryEntry{}, nil
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := s.store.QueryRecent(ctx, room, limit)
	if err != nil {
		metrics.HistoryRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("query history: %w", err)
	}

	entries := make([]HistoryEntry, len(rows))
	// rows 为新到旧，倒序写入得到旧到新。
	for i, row := range rows {
		text, err := s.cipher.Decrypt(row.Ciphertext)
		if err != nil {
			metrics.HistoryRequestsTotal.WithLabelValues("corrupt").Inc()
			log.Error().Err(err).Str("room", room).Uint("message_id", row.ID).Msg("history decrypt failed")
			return nil, fmt.Errorf("%w: message %d: %w", ErrHistoryCorrupt, row.ID, err)
		}
		entries[len(rows)-1-i] = HistoryEntry{
			ID:        row.ID,
			Room:      row.Room,
			Sender:    row.Sender,
			Content:   text,
			CreatedAt: row.CreatedAt,
		}
	}
	metrics.HistoryRequestsTotal.WithLabelValues("ok").Inc()
	return entries, nil
}
