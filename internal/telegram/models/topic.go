package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TopicEntry 目标群话题映射（chat_id + label 唯一）
type TopicEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	ChatID    int64              `bson:"chat_id"`    // 目标群 ID
	Label     string             `bson:"label"`      // 从 "Topic:" 标记解析出的原始名称
	Name      string             `bson:"name"`       // 实际创建的话题名称（带前缀）
	ThreadID  int                `bson:"thread_id"`  // message_thread_id
	CreatedAt time.Time          `bson:"created_at"` // 创建时间
}

// PinRecord 话题置顶记录，每个 (chat_id, thread_id) 至多一条
type PinRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	ChatID    int64              `bson:"chat_id"`
	ThreadID  int                `bson:"thread_id"`
	MessageID int                `bson:"message_id"` // 被置顶的消息
	Pinned    bool               `bson:"pinned"`
	CreatedAt time.Time          `bson:"created_at"`
}
