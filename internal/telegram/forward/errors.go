package forward

import (
	"errors"
	"time"

	"github.com/go-telegram/bot"
)

// 请求校验错误，均在创建任务之前返回
var (
	ErrMalformedLink  = errors.New("malformed message link")
	ErrUnresolvedChat = errors.New("chat cannot be resolved")
	ErrChatMismatch   = errors.New("start and end links belong to different chats")
	ErrRangeTooLarge  = errors.New("message range exceeds the configured maximum")
	ErrInvalidTarget  = errors.New("target chat id is invalid")
	ErrEmptyFind      = errors.New("replacement find text is empty")
)

// 任务调度错误
var (
	ErrTooManyJobs = errors.New("too many active forward jobs")
	ErrJobNotFound = errors.New("forward job not found")
)

const (
	defaultForwardRetryDelay     = 3 * time.Second
	maxForwardExponentialBackoff = 15 * time.Second
	forwardRetryJitterStep       = 200 * time.Millisecond
)

// shouldRetryForward 判断远端错误是否值得重试
// 限流和网络类错误可重试；请求本身有问题（消息不存在、无权限、群已迁移）直接放弃
func shouldRetryForward(err error) bool {
	if err == nil {
		return false
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return true
	}

	var migrate *bot.MigrateError
	if errors.As(err, &migrate) {
		return false
	}

	switch {
	case errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorNotFound),
		errors.Is(err, bot.ErrorUnauthorized):
		return false
	}
	return true
}

// retryAfter 提取限流错误里的等待秒数
func retryAfter(err error) (time.Duration, bool) {
	var tooMany *bot.TooManyRequestsError
	if !errors.As(err, &tooMany) {
		return 0, false
	}
	if tooMany.RetryAfter <= 0 {
		return defaultForwardRetryDelay, true
	}
	return time.Duration(tooMany.RetryAfter) * time.Second, true
}

// isRateLimited 是否为限流错误
func isRateLimited(err error) bool {
	_, ok := retryAfter(err)
	return ok
}

// migrateToChatIDFromError 群升级为超级群后返回的新 chat_id
func migrateToChatIDFromError(err error) (int64, bool) {
	if err == nil {
		return 0, false
	}
	var migrate *bot.MigrateError
	if !errors.As(err, &migrate) || migrate.MigrateToChatID == 0 {
		return 0, false
	}
	return int64(migrate.MigrateToChatID), true
}

// calculateForwardRetryDelay 计算重试前的等待时间
// 限流：服务端给出的秒数 + 抖动；其他错误：1s、2s、4s... 指数退避，上限 maxForwardExponentialBackoff
func calculateForwardRetryDelay(err error, attempt int, seed int64) time.Duration {
	if wait, ok := retryAfter(err); ok {
		return wait + forwardRetryJitter(seed)
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxForwardExponentialBackoff {
			return maxForwardExponentialBackoff
		}
	}
	return delay
}

// forwardRetryJitter 按 seed 取 200ms~1s 的固定抖动，让并发任务的重试错开
func forwardRetryJitter(seed int64) time.Duration {
	if seed < 0 {
		seed = -seed
	}
	return time.Duration(seed%5+1) * forwardRetryJitterStep
}
