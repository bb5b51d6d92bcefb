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

// MongoForwardJobRepository 转发任务仓储（forward_jobs 集合）
type MongoForwardJobRepository struct {
	collection *mongo.Collection
}

// NewMongoForwardJobRepository 创建转发任务仓储实例
func NewMongoForwardJobRepository(db *mongo.Database) ForwardJobRepository {
	return &MongoForwardJobRepository{
		collection: db.Collection("forward_jobs"),
	}
}

// Create 登记新任务
func (r *MongoForwardJobRepository) Create(ctx context.Context, job *models.ForwardJob) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = time.Now()
	}
	if _, err := r.collection.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("forward job %s: %w", job.ID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create forward job: %w", err)
	}
	return nil
}

// MarkProcessing pending -> processing
func (r *MongoForwardJobRepository) MarkProcessing(ctx context.Context, jobID string) error {
	filter := bson.M{
		"_id":    jobID,
		"status": models.JobStatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"status":     models.JobStatusProcessing,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to mark forward job processing: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("pending forward job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// UpdateProgress 更新进度，终态任务不受影响
func (r *MongoForwardJobRepository) UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	filter := bson.M{
		"_id":    jobID,
		"status": bson.M{"$nin": models.TerminalJobStatuses},
	}
	update := bson.M{
		"$set": bson.M{
			"progress":    progress.Progress,
			"current_seq": progress.CurrentSeq,
			"successful":  progress.Successful,
			"failed":      progress.Failed,
			"updated_at":  time.Now(),
		},
	}

	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to update forward job progress: %w", err)
	}
	return nil
}

// Finish 写入终态（已在终态的任务不会被覆盖）
func (r *MongoForwardJobRepository) Finish(ctx context.Context, jobID string, status models.ForwardJobStatus, progress models.JobProgress, errText string, endedAt time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	filter := bson.M{
		"_id":    jobID,
		"status": bson.M{"$nin": models.TerminalJobStatuses},
	}
	set := bson.M{
		"status":      status,
		"progress":    progress.Progress,
		"current_seq": progress.CurrentSeq,
		"successful":  progress.Successful,
		"failed":      progress.Failed,
		"ended_at":    endedAt,
		"updated_at":  time.Now(),
	}
	if errText != "" {
		set["error"] = errText
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to finish forward job: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("active forward job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// GetByID 按任务 ID 查询
func (r *MongoForwardJobRepository) GetByID(ctx context.Context, jobID string) (*models.ForwardJob, error) {
	var job models.ForwardJob
	err := r.collection.FindOne(ctx, bson.M{"_id": jobID}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("forward job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get forward job: %w", err)
	}
	return &job, nil
}

// ListActiveByUser 查询用户未结束的任务，按提交时间排序
func (r *MongoForwardJobRepository) ListActiveByUser(ctx context.Context, userID int64) ([]*models.ForwardJob, error) {
	filter := bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": models.ActiveJobStatuses},
	}
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query active forward jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.ForwardJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode forward jobs: %w", err)
	}
	return jobs, nil
}

// MarkInterrupted 将所有非终态任务标记为失败
func (r *MongoForwardJobRepository) MarkInterrupted(ctx context.Context, reason string, endedAt time.Time) (int64, error) {
	filter := bson.M{"status": bson.M{"$in": models.ActiveJobStatuses}}
	update := bson.M{
		"$set": bson.M{
			"status":     models.JobStatusFailed,
			"error":      reason,
			"ended_at":   endedAt,
			"updated_at": time.Now(),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted forward jobs: %w", err)
	}
	return result.ModifiedCount, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoForwardJobRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// 按用户 + 状态查询（/status、并发上限）
		{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "status", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes for forward_jobs: %w", err)
	}
	return nil
}
