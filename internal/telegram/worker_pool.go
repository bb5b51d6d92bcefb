package telegram

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forward_bot/internal/logger"
)

// HandlerTask 待执行的命令处理任务
type HandlerTask struct {
	Ctx         context.Context
	BotInstance *bot.Bot
	Update      *botModels.Update
	Handler     bot.HandlerFunc
}

// WorkerPoolStats 工作池运行状态
type WorkerPoolStats struct {
	Workers       int
	QueueLength   int
	QueueCapacity int
	Dropped       int64
}

// WorkerPool 命令处理工作池，避免慢命令阻塞更新轮询
// 转发任务本身由引擎自己的 goroutine 执行，不占用 worker
type WorkerPool struct {
	taskQueue chan HandlerTask
	wg        sync.WaitGroup
	workers   int
	dropped   atomic.Int64
	closeOnce sync.Once

	// onPanic 处理 panic 后的补救动作（通常是给用户回一条错误提示）
	onPanic func(task HandlerTask)
}

// NewWorkerPool 创建工作池
// workers: worker 协程数量
// queueSize: 任务队列大小
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	pool := &WorkerPool{
		taskQueue: make(chan HandlerTask, queueSize),
		workers:   workers,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	logger.L().Infof("Worker pool started with %d workers, queue size %d", workers, queueSize)
	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	logger.L().Debugf("Worker %d started", id)

	for task := range p.taskQueue {
		p.execute(id, task)
	}

	logger.L().Debugf("Worker %d stopped", id)
}

func (p *WorkerPool) execute(id int, task HandlerTask) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Worker %d: handler panic recovered: %v", id, r)
			if p.onPanic != nil {
				p.onPanic(task)
			}
		}
	}()

	task.Handler(task.Ctx, task.BotInstance, task.Update)
}

// Submit 提交任务，队列已满时丢弃并返回 false
func (p *WorkerPool) Submit(task HandlerTask) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		p.dropped.Add(1)
		logger.L().Warnf("Worker pool queue is full, task dropped")
		return false
	}
}

// Stats 当前状态快照
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:       p.workers,
		QueueLength:   len(p.taskQueue),
		QueueCapacity: cap(p.taskQueue),
		Dropped:       p.dropped.Load(),
	}
}

// Shutdown 停止接收任务并等待已入队任务执行完，可重复调用
func (p *WorkerPool) Shutdown() {
	p.closeOnce.Do(func() {
		logger.L().Info("Shutting down worker pool...")
		close(p.taskQueue)
		p.wg.Wait()
		logger.L().Info("Worker pool shut down successfully")
	})
}

// asyncHandler 将 handler 包装为提交到工作池执行
func (b *Bot) asyncHandler(handler bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		if b.workerPool == nil {
			handler(ctx, botInstance, update)
			return
		}
		task := HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     handler,
		}
		if !b.workerPool.Submit(task) && update.Message != nil {
			b.sendErrorMessage(ctx, update.Message.Chat.ID, "服务繁忙，请稍后重试")
		}
	}
}
