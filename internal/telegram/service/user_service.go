package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
)

var (
	// ErrNotOwner 操作者不是 Owner
	ErrNotOwner = errors.New("只有 Owner 可以管理授权")
	// ErrCannotChangeOwner Owner 由配置决定，不能通过命令修改
	ErrCannotChangeOwner = errors.New("不能修改 Owner 的权限")
	// ErrAlreadyAuthorized 用户已有转发权限
	ErrAlreadyAuthorized = errors.New("用户已经拥有转发权限")
	// ErrNotAuthorized 用户本来就没有转发权限
	ErrNotAuthorized = errors.New("用户未被授权")
	// ErrInvalidUserID 用户 ID 非法
	ErrInvalidUserID = errors.New("用户 ID 无效")
)

// UserServiceImpl 授权服务实现
type UserServiceImpl struct {
	userRepo repository.UserRepository
	ownerIDs []int64
}

// NewUserService 创建授权服务
func NewUserService(userRepo repository.UserRepository, ownerIDs []int64) UserService {
	return &UserServiceImpl{
		userRepo: userRepo,
		ownerIDs: slices.Clone(ownerIDs),
	}
}

// EnsureOwners 逐个写入 Owner 角色，单个失败只记录日志
func (s *UserServiceImpl) EnsureOwners(ctx context.Context) error {
	var failed int
	for _, ownerID := range s.ownerIDs {
		if err := s.userRepo.SetRole(ctx, ownerID, models.RoleOwner, 0); err != nil {
			logger.L().Warnf("Failed to initialize owner %d: %v", ownerID, err)
			failed++
			continue
		}
		logger.L().Infof("Initialized owner: %d", ownerID)
	}
	if failed > 0 {
		return fmt.Errorf("failed to initialize %d of %d owners", failed, len(s.ownerIDs))
	}
	return nil
}

// RegisterUser 注册或更新用户资料
func (s *UserServiceImpl) RegisterUser(ctx context.Context, info *TelegramUserInfo) error {
	user := &models.User{
		TelegramID: info.TelegramID,
		Username:   info.Username,
		FirstName:  info.FirstName,
	}
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	return nil
}

// IsOwner 配置名单优先，存储只作补充
func (s *UserServiceImpl) IsOwner(ctx context.Context, telegramID int64) bool {
	if slices.Contains(s.ownerIDs, telegramID) {
		return true
	}
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return false
	}
	return user.IsOwner()
}

// IsAuthorized 查询失败按未授权处理
func (s *UserServiceImpl) IsAuthorized(ctx context.Context, telegramID int64) bool {
	if slices.Contains(s.ownerIDs, telegramID) {
		return true
	}
	user, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.L().Warnf("Failed to load user %d for authorization: %v", telegramID, err)
		}
		return false
	}
	return user.IsAuthorized()
}

// Authorize 授予转发权限
func (s *UserServiceImpl) Authorize(ctx context.Context, targetID, grantedBy int64) error {
	if targetID <= 0 {
		return ErrInvalidUserID
	}
	if !s.IsOwner(ctx, grantedBy) {
		logger.L().Warnf("User %d attempted to authorize %d without owner permission", grantedBy, targetID)
		return ErrNotOwner
	}
	if s.IsOwner(ctx, targetID) {
		return ErrCannotChangeOwner
	}

	target, err := s.userRepo.GetByTelegramID(ctx, targetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if target != nil && target.IsAuthorized() {
		return ErrAlreadyAuthorized
	}

	if err := s.userRepo.SetRole(ctx, targetID, models.RoleAuthorized, grantedBy); err != nil {
		return fmt.Errorf("failed to authorize user: %w", err)
	}
	logger.L().Infof("User %d authorized by %d", targetID, grantedBy)
	return nil
}

// Revoke 撤销转发权限，用户降为普通用户
func (s *UserServiceImpl) Revoke(ctx context.Context, targetID, revokedBy int64) error {
	if targetID <= 0 {
		return ErrInvalidUserID
	}
	if !s.IsOwner(ctx, revokedBy) {
		logger.L().Warnf("User %d attempted to revoke %d without owner permission", revokedBy, targetID)
		return ErrNotOwner
	}
	if s.IsOwner(ctx, targetID) {
		return ErrCannotChangeOwner
	}

	target, err := s.userRepo.GetByTelegramID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotAuthorized
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !target.IsAuthorized() {
		return ErrNotAuthorized
	}

	if err := s.userRepo.SetRole(ctx, targetID, models.RoleUser, revokedBy); err != nil {
		return fmt.Errorf("failed to revoke user: %w", err)
	}
	logger.L().Infof("User %d revoked by %d", targetID, revokedBy)
	return nil
}

// ListAuthorized 列出 Owner 与已授权用户
func (s *UserServiceImpl) ListAuthorized(ctx context.Context) ([]*models.User, error) {
	users, err := s.userRepo.ListByRoles(ctx, models.RoleOwner, models.RoleAuthorized)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized users: %w", err)
	}
	return users, nil
}
