package telegram

import (
	"sync"
	"time"

	"forward_bot/internal/telegram/forward"
)

const defaultPendingTTL = time.Hour

// pendingRequest 已解析、等待 /forward 确认的请求
type pendingRequest struct {
	raw       forward.RawRequest
	messageID int // 请求原文所在消息，/forward 必须回复它
	expires   time.Time
}

// pendingRequestCache 每个用户至多一条待确认请求，新请求覆盖旧请求
type pendingRequestCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	values map[int64]pendingRequest
}

func newPendingRequestCache(ttl time.Duration) *pendingRequestCache {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	return &pendingRequestCache{
		ttl:    ttl,
		now:    time.Now,
		values: make(map[int64]pendingRequest),
	}
}

func (c *pendingRequestCache) Get(userID int64) (pendingRequest, bool) {
	c.mu.RLock()
	entry, ok := c.values[userID]
	c.mu.RUnlock()

	if !ok {
		return pendingRequest{}, false
	}

	if c.now().After(entry.expires) {
		c.mu.Lock()
		if current, ok := c.values[userID]; ok && current.expires.Equal(entry.expires) {
			delete(c.values, userID)
		}
		c.mu.Unlock()
		return pendingRequest{}, false
	}

	return entry, true
}

func (c *pendingRequestCache) Set(userID int64, messageID int, raw forward.RawRequest) {
	c.mu.Lock()
	c.values[userID] = pendingRequest{
		raw:       raw,
		messageID: messageID,
		expires:   c.now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Delete 返回是否确实删除了未过期的请求
func (c *pendingRequestCache) Delete(userID int64) bool {
	_, ok := c.Get(userID)

	c.mu.Lock()
	delete(c.values, userID)
	c.mu.Unlock()
	return ok
}
