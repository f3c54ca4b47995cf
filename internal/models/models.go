package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message 是持久化的聊天记录，正文只以密文形式落库。
// 房间只是一个标签，没有独立的表；(room, id) 复合索引服务于按房间倒序取最近消息。
type Message struct {
	ID         uint      `gorm:"primaryKey;index:idx_msg_room_id,priority:2"`
	Room       string    `gorm:"index:idx_msg_room_id,priority:1;size:128;not null"`
	Sender     string    `gorm:"index;size:64;not null"`
	Ciphertext []byte    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
