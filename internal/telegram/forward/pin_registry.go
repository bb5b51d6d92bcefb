package forward

import (
	"context"
	"errors"
	"sync"

	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/models"
	"forward_bot/internal/telegram/repository"
)

type pinKey struct {
	chatID   int64
	threadID int
}

// PinRegistry 每个话题只置顶一条消息
// 存储中的记录是权威来源，内存集合只用来少查一次库
type PinRegistry struct {
	repo      repository.PinRepository
	transport Transport

	mu     sync.Mutex
	locks  map[pinKey]*sync.Mutex
	pinned map[pinKey]struct{}
}

// NewPinRegistry 创建置顶注册表
func NewPinRegistry(repo repository.PinRepository, transport Transport) *PinRegistry {
	return &PinRegistry{
		repo:      repo,
		transport: transport,
		locks:     make(map[pinKey]*sync.Mutex),
		pinned:    make(map[pinKey]struct{}),
	}
}

// EnsurePinned 话题尚未置顶时置顶 candidate；返回本次调用是否完成了置顶
// 置顶失败只记录日志，不影响转发
func (r *PinRegistry) EnsurePinned(ctx context.Context, chatID int64, threadID int, candidate int) bool {
	key := pinKey{chatID: chatID, threadID: threadID}
	if r.known(key) {
		return false
	}

	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if r.known(key) {
		return false
	}

	_, found, err := r.repo.Find(ctx, chatID, threadID)
	if err != nil {
		logger.L().Warnf("Pin lookup failed: chat=%d thread=%d err=%v", chatID, threadID, err)
		return false
	}
	if found {
		r.markKnown(key)
		return false
	}

	if err := r.transport.PinMessage(ctx, chatID, candidate); err != nil {
		logger.L().Warnf("Failed to pin message %d in chat %d thread %d: %v", candidate, chatID, threadID, err)
		return false
	}

	err = r.repo.Create(ctx, &models.PinRecord{
		ChatID:    chatID,
		ThreadID:  threadID,
		MessageID: candidate,
		Pinned:    true,
	})
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicate):
		r.markKnown(key)
		logger.L().Infof("Pin for chat %d thread %d already recorded elsewhere", chatID, threadID)
		return false
	default:
		logger.L().Warnf("Failed to persist pin record: chat=%d thread=%d err=%v", chatID, threadID, err)
	}

	r.markKnown(key)
	logger.L().Infof("Pinned message %d in chat %d thread %d", candidate, chatID, threadID)
	return true
}

func (r *PinRegistry) keyLock(key pinKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

func (r *PinRegistry) known(key pinKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pinned[key]
	return ok
}

func (r *PinRegistry) markKnown(key pinKey) {
	r.mu.Lock()
	r.pinned[key] = struct{}{}
	r.mu.Unlock()
}
