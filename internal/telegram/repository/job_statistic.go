package repository

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/telegram/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoJobStatisticRepository 任务统计仓储（forward_stats 集合）
type MongoJobStatisticRepository struct {
	collection *mongo.Collection
}

// NewMongoJobStatisticRepository 创建统计仓储
func NewMongoJobStatisticRepository(db *mongo.Database) JobStatisticRepository {
	return &MongoJobStatisticRepository{
		collection: db.Collection("forward_stats"),
	}
}

// Insert 追加一条统计
func (r *MongoJobStatisticRepository) Insert(ctx context.Context, stat *models.JobStatistic) error {
	if stat.Timestamp.IsZero() {
		stat.Timestamp = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, stat); err != nil {
		return fmt.Errorf("failed to insert job statistic: %w", err)
	}
	return nil
}

// ListRecentByUser 按时间倒序查询用户最近的统计
func (r *MongoJobStatisticRepository) ListRecentByUser(ctx context.Context, userID int64, limit int64) ([]*models.JobStatistic, error) {
	if limit <= 0 {
		limit = 5
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query job statistics: %w", err)
	}
	defer cursor.Close(ctx)

	var stats []*models.JobStatistic
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode job statistics: %w", err)
	}
	return stats, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoJobStatisticRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "job_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for forward_stats: %w", err)
	}
	return nil
}
