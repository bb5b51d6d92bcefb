package telegram

import (
	"context"
	"fmt"
	"time"

	"forward_bot/internal/config"
	"forward_bot/internal/logger"
	"forward_bot/internal/telegram/forward"
	"forward_bot/internal/telegram/repository"
	"forward_bot/internal/telegram/service"

	"github.com/go-telegram/bot"
	"go.mongodb.org/mongo-driver/mongo"
)

// Config Telegram Bot 配置
type Config struct {
	Token            string  // Bot Token
	OwnerIDs         []int64 // Owner 用户 IDs
	Debug            bool    // 是否开启调试模式
	Engine           forward.Config
	Controller       forward.ControllerConfig
	MaxJobsPerUser   int           // 每个用户同时运行的任务上限
	PendingTTL       time.Duration // 待确认请求有效期
	APIRatePerSecond int           // 全局远端调用速率
	Workers          int           // 命令处理 worker 数
	QueueSize        int           // 命令队列长度
}

// Bot Telegram Bot 服务
type Bot struct {
	bot            *bot.Bot
	db             *mongo.Database
	userRepo       repository.UserRepository
	userService    service.UserService
	forwardService *forward.Service
	pending        *pendingRequestCache
	workerPool     *WorkerPool
	limiter        *forward.RateLimiter
	startTime      time.Time

	maxMessages    int
	maxJobsPerUser int
	directCopy     bool // 未配置中转频道，消息原样复制

	jobRepo   repository.ForwardJobRepository
	statRepo  repository.JobStatisticRepository
	topicRepo repository.TopicRepository
	pinRepo   repository.PinRepository
}

// New 创建 Telegram Bot 实例
func New(cfg Config, db *mongo.Database) (*Bot, error) {
	// 验证配置
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	telegramBot := &Bot{
		db:             db,
		userRepo:       repository.NewMongoUserRepository(db),
		pending:        newPendingRequestCache(cfg.PendingTTL),
		maxMessages:    cfg.Engine.MaxMessages,
		maxJobsPerUser: cfg.MaxJobsPerUser,
		directCopy:     cfg.Engine.LogChannelID == 0,
		jobRepo:        repository.NewMongoForwardJobRepository(db),
		statRepo:       repository.NewMongoJobStatisticRepository(db),
		topicRepo:      repository.NewMongoTopicRepository(db),
		pinRepo:        repository.NewMongoPinRepository(db),
	}
	telegramBot.userService = service.NewUserService(telegramBot.userRepo, cfg.OwnerIDs)

	// 创建 bot 实例，非命令文本交给默认处理器解析转发请求
	opts := []bot.Option{
		bot.WithDefaultHandler(telegramBot.asyncHandler(telegramBot.handleDefault)),
	}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	telegramBot.bot = b

	telegramBot.limiter = forward.NewRateLimiter(cfg.APIRatePerSecond)
	transport, err := newBotTransport(b, cfg.Token, telegramBot.limiter)
	if err != nil {
		telegramBot.limiter.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	telegramBot.forwardService = forward.NewService(
		cfg.Engine,
		transport,
		forward.Stores{
			Jobs:   telegramBot.jobRepo,
			Stats:  telegramBot.statRepo,
			Topics: telegramBot.topicRepo,
			Pins:   telegramBot.pinRepo,
		},
		forward.NewController(cfg.Controller),
		forward.NewJobRegistry(cfg.MaxJobsPerUser),
	)

	// 初始化数据库索引
	if err := telegramBot.ensureIndexes(context.Background()); err != nil {
		telegramBot.limiter.Close()
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	// 初始化 owners
	if err := telegramBot.userService.EnsureOwners(context.Background()); err != nil {
		logger.L().Warnf("Failed to initialize owners: %v", err)
	}

	telegramBot.workerPool = NewWorkerPool(cfg.Workers, cfg.QueueSize)
	telegramBot.workerPool.onPanic = func(task HandlerTask) {
		if task.Update != nil && task.Update.Message != nil {
			telegramBot.sendErrorMessage(task.Ctx, task.Update.Message.Chat.ID, "服务器内部错误，请稍后重试")
		}
	}

	// 注册 handlers
	telegramBot.registerHandlers()

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot, nil
}

// InitFromConfig 从应用配置初始化 Telegram Bot
func InitFromConfig(cfg *config.Config, db *mongo.Database) (*Bot, error) {
	engine := forward.DefaultConfig()
	engine.LogChannelID = cfg.Forward.LogChannelID
	engine.MaxMessages = cfg.Forward.MaxSyncMessages
	engine.MaxRetries = cfg.Forward.MaxRetries
	engine.ProgressEvery = cfg.Forward.ProgressEvery
	engine.ProgressInterval = cfg.Forward.ProgressInterval

	controller := forward.DefaultControllerConfig()
	controller.BaseDelay = cfg.Forward.MinDelay
	controller.MaxDelay = cfg.Forward.MaxDelay
	controller.BatchSize = cfg.Forward.BatchSize

	telegramCfg := Config{
		Token:            cfg.TelegramToken,
		OwnerIDs:         cfg.BotOwnerIDs,
		Engine:           engine,
		Controller:       controller,
		MaxJobsPerUser:   cfg.Forward.MaxJobsPerUser,
		PendingTTL:       cfg.Forward.PendingTTL,
		APIRatePerSecond: cfg.Forward.APIRatePerSecond,
	}
	return New(telegramCfg, db)
}

// Start 启动 Bot（阻塞直到 ctx 取消）
// ctx 取消后运行中的任务在当前消息处理完后停止，Start 等待它们写入终态后返回
func (b *Bot) Start(ctx context.Context) error {
	b.startTime = time.Now()

	if _, err := b.forwardService.RecoverInterrupted(ctx); err != nil {
		logger.L().Errorf("Failed to recover interrupted forward jobs: %v", err)
	}

	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")

	b.workerPool.Shutdown()
	b.forwardService.Wait()
	b.limiter.Close()
	return nil
}

// Stop 停止 Bot
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")
	// bot.Stop() 通过 context 取消实现，这里只是记录日志
	return nil
}

// ensureIndexes 确保所有数据库索引存在
func (b *Bot) ensureIndexes(ctx context.Context) error {
	indexers := []struct {
		name string
		repo interface {
			EnsureIndexes(ctx context.Context) error
		}
	}{
		{"user", b.userRepo},
		{"forward job", b.jobRepo},
		{"job statistic", b.statRepo},
		{"topic", b.topicRepo},
		{"pin", b.pinRepo},
	}

	for _, idx := range indexers {
		if err := idx.repo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("failed to ensure %s indexes: %w", idx.name, err)
		}
		logger.L().Debugf("%s indexes ensured", idx.name)
	}
	return nil
}
