package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"

	"golang.org/x/sync/singleflight"
)

type topicKey struct {
	chatID int64
	label  string
}

type topicResult struct {
	threadID int
	created  bool
}

// TopicRegistry (目标群, 话题标签) -> 话题线程
// 读走存储不加锁；同一进程内同一个 key 的创建通过 singleflight 合并
type TopicRegistry struct {
	repo      repository.TopicRepository
	transport Transport

	group singleflight.Group

	// 持久化失败时的兜底，避免同一进程重复建话题
	mu       sync.RWMutex
	fallback map[topicKey]int
}

// NewTopicRegistry 创建话题注册表
func NewTopicRegistry(repo repository.TopicRepository, transport Transport) *TopicRegistry {
	return &TopicRegistry{
		repo:      repo,
		transport: transport,
		fallback:  make(map[topicKey]int),
	}
}

// Resolve 返回话题线程 ID；created 表示本次调用新建了话题
// ok=false 时调用方应退回到会话的默认消息流
func (r *TopicRegistry) Resolve(ctx context.Context, chatID int64, label string) (threadID int, created bool, ok bool) {
	key := topicKey{chatID: chatID, label: label}

	if id, hit := r.cached(key); hit {
		return id, false, true
	}

	entry, found, err := r.repo.Find(ctx, chatID, label)
	if err != nil {
		logger.L().Warnf("Topic lookup failed: chat=%d label=%q err=%v", chatID, label, err)
		return 0, false, false
	}
	if found {
		return entry.ThreadID, false, true
	}

	// 只有执行创建的调用方报告 created，共享结果的调用方视为已存在
	leader := false
	v, err, _ := r.group.Do(fmt.Sprintf("%d|%s", chatID, label), func() (interface{}, error) {
		leader = true
		return r.create(ctx, key)
	})
	if err != nil {
		logger.L().Warnf("Topic creation failed: chat=%d label=%q err=%v", chatID, label, err)
		return 0, false, false
	}

	res := v.(topicResult)
	return res.threadID, res.created && leader, true
}

func (r *TopicRegistry) create(ctx context.Context, key topicKey) (topicResult, error) {
	// 排队等锁期间可能已被别的任务写入
	if id, hit := r.cached(key); hit {
		return topicResult{threadID: id}, nil
	}
	entry, found, err := r.repo.Find(ctx, key.chatID, key.label)
	if err != nil {
		return topicResult{}, err
	}
	if found {
		return topicResult{threadID: entry.ThreadID}, nil
	}

	name := FormatTopicName(key.label)
	threadID, err := r.transport.CreateTopic(ctx, key.chatID, name)
	if err != nil {
		return topicResult{}, fmt.Errorf("create forum topic: %w", err)
	}

	err = r.repo.Create(ctx, &models.TopicEntry{
		ChatID:   key.chatID,
		Label:    key.label,
		Name:     name,
		ThreadID: threadID,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicate):
		// 其他进程先落库，以存储为准
		stored, found, findErr := r.repo.Find(ctx, key.chatID, key.label)
		if findErr == nil && found {
			logger.L().Warnf("Topic %q in chat %d already stored as thread %d, orphaned thread %d",
				key.label, key.chatID, stored.ThreadID, threadID)
			return topicResult{threadID: stored.ThreadID}, nil
		}
		r.remember(key, threadID)
	default:
		logger.L().Warnf("Failed to persist topic %q for chat %d: %v", key.label, key.chatID, err)
		r.remember(key, threadID)
	}

	logger.L().Infof("Created topic: chat=%d label=%q thread=%d", key.chatID, key.label, threadID)
	return topicResult{threadID: threadID, created: true}, nil
}

func (r *TopicRegistry) cached(key topicKey) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fallback[key]
	return id, ok
}

func (r *TopicRegistry) remember(key topicKey, threadID int) {
	r.mu.Lock()
	r.fallback[key] = threadID
	r.mu.Unlock()
}
