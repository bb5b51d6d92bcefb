package forward

import (
	"math/rand"
	"sync"
	"time"
)

// ControllerConfig 节流参数
type ControllerConfig struct {
	BaseDelay        time.Duration // 两条消息之间的最小间隔
	MaxDelay         time.Duration // 间隔 + 升级项的上限（不含抖动）
	ErrorStep        time.Duration // 每个连续错误增加的间隔
	MaxEscalation    int           // 连续错误计数上限
	Jitter           time.Duration // 随机抖动上限
	RetryMargin      time.Duration // 限流等待之外额外的安全余量
	BatchSize        int           // 每处理多少条做一次冷却
	BatchCooldown    time.Duration // 批次冷却基础时长
	BatchCooldownMax time.Duration // 批次全部失败时的冷却时长
}

// DefaultControllerConfig 默认节流参数
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		BaseDelay:        2 * time.Second,
		MaxDelay:         5 * time.Second,
		ErrorStep:        500 * time.Millisecond,
		MaxEscalation:    10,
		Jitter:           300 * time.Millisecond,
		RetryMargin:      time.Second,
		BatchSize:        50,
		BatchCooldown:    5 * time.Second,
		BatchCooldownMax: 30 * time.Second,
	}
}

// Controller 全进程共享的限速/退避控制器
// 任何一个任务的连续失败都会拉长所有任务的发送间隔，保护同一个 Bot 的调用配额
type Controller struct {
	cfg ControllerConfig

	mu          sync.Mutex
	consecutive int

	jitter func(limit time.Duration) time.Duration
}

// ControllerOption 控制器可选项
type ControllerOption func(*Controller)

// WithJitterSource 替换抖动来源（测试使用固定值）
func WithJitterSource(fn func(limit time.Duration) time.Duration) ControllerOption {
	return func(c *Controller) {
		c.jitter = fn
	}
}

// NewController 创建控制器
func NewController(cfg ControllerConfig, opts ...ControllerOption) *Controller {
	def := DefaultControllerConfig()
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxEscalation <= 0 {
		cfg.MaxEscalation = def.MaxEscalation
	}
	if cfg.BatchCooldownMax < cfg.BatchCooldown {
		cfg.BatchCooldownMax = cfg.BatchCooldown
	}

	c := &Controller{
		cfg:    cfg,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(limit)))
}

// Config 返回当前参数
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// ConsecutiveErrors 当前连续错误计数
func (c *Controller) ConsecutiveErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutive
}

func (c *Controller) escalation() time.Duration {
	c.mu.Lock()
	n := c.consecutive
	c.mu.Unlock()
	return time.Duration(n) * c.cfg.ErrorStep
}

// NextDelay 下一条消息前的等待时间
func (c *Controller) NextDelay() time.Duration {
	delay := c.cfg.BaseDelay + c.escalation()
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	return delay + c.jitter(c.cfg.Jitter)
}

// RetryDelay 同一条消息重试前的等待时间
// 限流时在服务端要求的秒数上叠加升级项和固定余量
func (c *Controller) RetryDelay(err error, attempt int, seed int64) time.Duration {
	delay := calculateForwardRetryDelay(err, attempt, seed)
	if isRateLimited(err) {
		delay += c.escalation() + c.cfg.RetryMargin
	}
	return delay
}

// OnSuccess 成功一次只衰减一级，不直接清零
func (c *Controller) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutive > 0 {
		c.consecutive--
	}
}

// OnFailure 失败一次升级一级
func (c *Controller) OnFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutive < c.cfg.MaxEscalation {
		c.consecutive++
	}
}

// BatchCooldown 每满一个批次强制冷却，时长随该批次的失败率线性增长
func (c *Controller) BatchCooldown(processed, failedInBatch int) (time.Duration, bool) {
	size := c.cfg.BatchSize
	if size <= 0 || processed <= 0 || processed%size != 0 {
		return 0, false
	}
	if failedInBatch < 0 {
		failedInBatch = 0
	}
	if failedInBatch > size {
		failedInBatch = size
	}

	span := c.cfg.BatchCooldownMax - c.cfg.BatchCooldown
	extra := time.Duration(int64(span) * int64(failedInBatch) / int64(size))
	return c.cfg.BatchCooldown + extra, true
}
