package forward

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter 令牌桶，限制所有任务对远端 API 的总调用频率
// 与 Controller 的逐条延迟叠加：Controller 控制单个任务节奏，RateLimiter 控制进程总量
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter ratePerSecond <= 0 时返回 nil（不限速），nil 限速器可以安全调用
// 桶容量等于每秒速率，启动后可以立即发出一整秒的调用
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		return nil
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond)}
}

// Wait 阻塞直到拿到令牌，ctx 结束或等待会超过 ctx 截止时间时返回错误
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// Close 解除限速，之后的 Wait 不再阻塞，可重复调用
func (r *RateLimiter) Close() {
	if r == nil {
		return
	}
	r.limiter.SetLimit(rate.Inf)
}
