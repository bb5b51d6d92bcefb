package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 角色常量
const (
	RoleOwner      = "owner"      // 超级管理员，由 BOT_OWNER_IDS 配置
	RoleAuthorized = "authorized" // 被授权可以使用转发功能
	RoleUser       = "user"       // 普通用户
)

// User 用户模型
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	TelegramID int64              `bson:"telegram_id"`          // Telegram 用户 ID（唯一）
	Username   string             `bson:"username,omitempty"`   // @username
	FirstName  string             `bson:"first_name,omitempty"` // 名字
	Role       string             `bson:"role"`                 // 角色：owner/authorized/user
	GrantedBy  int64              `bson:"granted_by,omitempty"` // 授权者的 TelegramID
	GrantedAt  *time.Time         `bson:"granted_at,omitempty"` // 授权时间
	CreatedAt  time.Time          `bson:"created_at"`
	UpdatedAt  time.Time          `bson:"updated_at"`
}

// IsOwner 是否为 Owner
func (u *User) IsOwner() bool {
	return u.Role == RoleOwner
}

// IsAuthorized 是否可以使用转发功能（包括 Owner）
func (u *User) IsAuthorized() bool {
	return u.Role == RoleAuthorized || u.Role == RoleOwner
}
