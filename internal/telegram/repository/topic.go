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

// MongoTopicRepository 话题映射仓储（topics 集合）
type MongoTopicRepository struct {
	collection *mongo.Collection
}

// NewMongoTopicRepository 创建话题映射仓储
func NewMongoTopicRepository(db *mongo.Database) TopicRepository {
	return &MongoTopicRepository{
		collection: db.Collection("topics"),
	}
}

// Find 按 (chat_id, label) 查询
func (r *MongoTopicRepository) Find(ctx context.Context, chatID int64, label string) (*models.TopicEntry, bool, error) {
	var entry models.TopicEntry
	err := r.collection.FindOne(ctx, bson.M{"chat_id": chatID, "label": label}).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get topic: %w", err)
	}
	return &entry, true, nil
}

// Create 写入映射
func (r *MongoTopicRepository) Create(ctx context.Context, entry *models.TopicEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("topic %d/%q: %w", entry.ChatID, entry.Label, ErrDuplicate)
		}
		return fmt.Errorf("failed to create topic: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoTopicRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "chat_id", Value: 1},
				{Key: "label", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for topics: %w", err)
	}
	return nil
}
