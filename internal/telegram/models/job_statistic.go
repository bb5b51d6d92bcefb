package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatistic 任务结束后写入的统计记录，只追加不修改
type JobStatistic struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	JobID               string             `bson:"job_id"`
	UserID              int64              `bson:"user_id"`
	Status              ForwardJobStatus   `bson:"status"`
	SourceChatID        int64              `bson:"source_chat"`
	TargetChatID        int64              `bson:"target_chat"`
	MessageRange        string             `bson:"message_range"` // "start-end"
	TotalMessages       int                `bson:"total_messages"`
	Successful          int                `bson:"successful"`
	Failed              int                `bson:"failed"`
	ReplacementsCount   int                `bson:"replacements_count"`   // 替换规则条数
	ReplacementsApplied int                `bson:"replacements_applied"` // 实际替换次数
	TopicsCreated       int                `bson:"topics_created"`
	MessagesPinned      int                `bson:"messages_pinned"`
	DurationSeconds     float64            `bson:"total_time_seconds"`
	MessagesPerMinute   float64            `bson:"messages_per_minute"`
	StartedAt           time.Time          `bson:"started_at"`
	EndedAt             time.Time          `bson:"ended_at"`
	Timestamp           time.Time          `bson:"timestamp"` // 写入时间
}
