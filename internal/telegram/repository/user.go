package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserRepository 用户数据访问层（授权名单）
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository 创建用户 Repository
func NewMongoUserRepository(db *mongo.Database) UserRepository {
	return &MongoUserRepository{
		collection: db.Collection("users"),
	}
}

// Upsert 创建或更新用户资料，角色仅在插入时设为普通用户
func (r *MongoUserRepository) Upsert(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.UpdatedAt = now

	filter := bson.M{"telegram_id": user.TelegramID}
	update := bson.M{
		"$set": bson.M{
			"username":   user.Username,
			"first_name": user.FirstName,
			"updated_at": user.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"role":       models.RoleUser,
			"created_at": now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

// GetByTelegramID 根据 Telegram ID 获取用户
func (r *MongoUserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, bson.M{"telegram_id": telegramID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %d: %w", telegramID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SetRole 设置角色，用户不存在时直接创建
func (r *MongoUserRepository) SetRole(ctx context.Context, telegramID int64, role string, grantedBy int64) error {
	now := time.Now()
	filter := bson.M{"telegram_id": telegramID}

	update := bson.M{
		"$set": bson.M{
			"role":       role,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}
	if role == models.RoleUser {
		update["$unset"] = bson.M{
			"granted_by": "",
			"granted_at": "",
		}
	} else {
		update["$set"].(bson.M)["granted_by"] = grantedBy
		update["$set"].(bson.M)["granted_at"] = now
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to set user role: %w", err)
	}
	return nil
}

// ListByRoles 列出指定角色的用户
func (r *MongoUserRepository) ListByRoles(ctx context.Context, roles ...string) ([]*models.User, error) {
	filter := bson.M{
		"role": bson.M{"$in": roles},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "telegram_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
