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

// MongoPinRepository 置顶记录仓储（topic_pins 集合）
type MongoPinRepository struct {
	collection *mongo.Collection
}

// NewMongoPinRepository 创建置顶记录仓储
func NewMongoPinRepository(db *mongo.Database) PinRepository {
	return &MongoPinRepository{
		collection: db.Collection("topic_pins"),
	}
}

// Find 按 (chat_id, thread_id) 查询
func (r *MongoPinRepository) Find(ctx context.Context, chatID int64, threadID int) (*models.PinRecord, bool, error) {
	var record models.PinRecord
	err := r.collection.FindOne(ctx, bson.M{"chat_id": chatID, "thread_id": threadID}).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get pin record: %w", err)
	}
	return &record, true, nil
}

// Create 写入置顶记录，唯一索引保证每个话题只有一条
func (r *MongoPinRepository) Create(ctx context.Context, record *models.PinRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("pin %d/%d: %w", record.ChatID, record.ThreadID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create pin record: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoPinRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "thread_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for topic_pins: %w", err)
	}
	return nil
}
