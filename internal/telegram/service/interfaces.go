package service

import (
	"context"

	"forward_bot/internal/telegram/models"
)

// UserService 授权业务逻辑接口
// Owner 来自配置，Authorized 用户由 Owner 通过命令维护
type UserService interface {
	// EnsureOwners 将配置中的 Owner 写入存储
	EnsureOwners(ctx context.Context) error

	// RegisterUser 记录用户资料（不修改角色）
	RegisterUser(ctx context.Context, info *TelegramUserInfo) error

	// IsOwner 是否为 Owner
	IsOwner(ctx context.Context, telegramID int64) bool

	// IsAuthorized 是否可以发起转发任务（包括 Owner）
	IsAuthorized(ctx context.Context, telegramID int64) bool

	// Authorize 授予转发权限
	Authorize(ctx context.Context, targetID, grantedBy int64) error

	// Revoke 撤销转发权限
	Revoke(ctx context.Context, targetID, revokedBy int64) error

	// ListAuthorized 列出 Owner 与已授权用户
	ListAuthorized(ctx context.Context) ([]*models.User, error)
}

// TelegramUserInfo Telegram 用户信息 DTO
type TelegramUserInfo struct {
	TelegramID int64
	Username   string
	FirstName  string
}
