package models

import (
	"time"
)

// ForwardJobStatus 转发任务状态
type ForwardJobStatus string

const (
	JobStatusPending    ForwardJobStatus = "pending"    // 已登记，尚未开始
	JobStatusProcessing ForwardJobStatus = "processing" // 执行中
	JobStatusCancelled  ForwardJobStatus = "cancelled"  // 用户取消
	JobStatusCompleted  ForwardJobStatus = "completed"  // 区间全部处理完成
	JobStatusFailed     ForwardJobStatus = "failed"     // 任务级异常
)

// TerminalJobStatuses 终态集合，进入后不再迁移
var TerminalJobStatuses = []ForwardJobStatus{
	JobStatusCancelled,
	JobStatusCompleted,
	JobStatusFailed,
}

// ActiveJobStatuses 非终态集合
var ActiveJobStatuses = []ForwardJobStatus{
	JobStatusPending,
	JobStatusProcessing,
}

// IsTerminal 是否为终态
func (s ForwardJobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ReplacementPair 单条文本替换规则
type ReplacementPair struct {
	Find    string `bson:"find"`
	Replace string `bson:"replace"`
}

// ForwardRequestRecord 转发请求的持久化投影
type ForwardRequestRecord struct {
	SourceChatID int64             `bson:"source_chat_id"`
	StartSeq     int               `bson:"start_seq"`
	EndSeq       int               `bson:"end_seq"`
	TargetChatID int64             `bson:"target_chat_id"`
	Replacements []ReplacementPair `bson:"replacements,omitempty"`
}

// Total 区间内的消息数量
func (r ForwardRequestRecord) Total() int {
	return r.EndSeq - r.StartSeq + 1
}

// JobProgress 任务进度快照
type JobProgress struct {
	Progress   float64 `bson:"progress"`    // 0-100
	CurrentSeq int     `bson:"current_seq"` // 最近处理的消息序号
	Successful int     `bson:"successful"`
	Failed     int     `bson:"failed"`
}

// ForwardJob 转发任务记录
type ForwardJob struct {
	ID        string               `bson:"_id"`                // <user_id>_<unix>_<suffix>
	UserID    int64                `bson:"user_id"`            // 发起人
	Status    ForwardJobStatus     `bson:"status"`             // 当前状态
	Request   ForwardRequestRecord `bson:"request"`            // 请求参数
	Total     int                  `bson:"total"`              // 区间总数
	Error     string               `bson:"error,omitempty"`    // 失败原因
	StartedAt time.Time            `bson:"started_at"`         // 提交时间
	EndedAt   *time.Time           `bson:"ended_at,omitempty"` // 进入终态的时间
	UpdatedAt time.Time            `bson:"updated_at"`

	JobProgress `bson:",inline"`
}

// Processed 已处理的消息数量
func (j *ForwardJob) Processed() int {
	return j.Successful + j.Failed
}
