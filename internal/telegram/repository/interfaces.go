package repository

import (
	"context"
	"errors"
	"time"

	"forward_bot/internal/telegram/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突（写一次语义下表示已被其他调用方写入）
	ErrDuplicate = errors.New("duplicate record")
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	// Upsert 创建或更新用户资料（不修改角色）
	Upsert(ctx context.Context, user *models.User) error

	// GetByTelegramID 根据 Telegram ID 获取用户
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)

	// SetRole 设置用户角色，用户不存在时创建
	SetRole(ctx context.Context, telegramID int64, role string, grantedBy int64) error

	// ListByRoles 列出指定角色的用户
	ListByRoles(ctx context.Context, roles ...string) ([]*models.User, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// ForwardJobRepository 转发任务存储（Job Store）
type ForwardJobRepository interface {
	// Create 登记新任务
	Create(ctx context.Context, job *models.ForwardJob) error

	// MarkProcessing pending -> processing
	MarkProcessing(ctx context.Context, jobID string) error

	// UpdateProgress 更新进度（终态任务不会被修改）
	UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error

	// Finish 写入终态
	Finish(ctx context.Context, jobID string, status models.ForwardJobStatus, progress models.JobProgress, errText string, endedAt time.Time) error

	// GetByID 按任务 ID 查询
	GetByID(ctx context.Context, jobID string) (*models.ForwardJob, error)

	// ListActiveByUser 查询用户未结束的任务
	ListActiveByUser(ctx context.Context, userID int64) ([]*models.ForwardJob, error)

	// MarkInterrupted 将遗留的非终态任务标记为失败（进程重启后调用）
	MarkInterrupted(ctx context.Context, reason string, endedAt time.Time) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// TopicRepository 话题映射存储
type TopicRepository interface {
	// Find 按 (chat_id, label) 查询
	Find(ctx context.Context, chatID int64, label string) (*models.TopicEntry, bool, error)

	// Create 写入映射，唯一键冲突返回 ErrDuplicate
	Create(ctx context.Context, entry *models.TopicEntry) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// PinRepository 置顶记录存储
type PinRepository interface {
	// Find 按 (chat_id, thread_id) 查询
	Find(ctx context.Context, chatID int64, threadID int) (*models.PinRecord, bool, error)

	// Create 写入置顶记录，唯一键冲突返回 ErrDuplicate
	Create(ctx context.Context, record *models.PinRecord) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// JobStatisticRepository 任务统计存储
type JobStatisticRepository interface {
	// Insert 追加一条统计
	Insert(ctx context.Context, stat *models.JobStatistic) error

	// ListRecentByUser 查询用户最近的统计
	ListRecentByUser(ctx context.Context, userID int64, limit int64) ([]*models.JobStatistic, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
