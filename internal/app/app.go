package app

import (
	"context"
	"errors"
	"fmt"

	"forward_bot/internal/config"
	"forward_bot/internal/logger"
	"forward_bot/internal/mongo"
	"forward_bot/internal/telegram"
	"forward_bot/internal/tracing"

	"golang.org/x/sync/errgroup"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB     *mongo.Client
	Tracing     *tracing.Manager
	TelegramBot *telegram.Bot
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会清理已初始化的服务并返回错误
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceVersion = Version
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.UseStdout = cfg.Tracing.UseStdout
	tracingCfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	tracingCfg.SampleRate = cfg.Tracing.SampleRate

	app.Tracing = tracing.NewManager(tracingCfg, logger.L())
	if err := app.Tracing.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("init tracing failed: %w", err)
	}

	mongoClient, err := mongo.InitFromConfig(cfg)
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	app.TelegramBot, err = telegram.InitFromConfig(cfg, mongoClient.Database())
	if err != nil {
		_ = app.Close(ctx)
		return nil, fmt.Errorf("init Telegram bot failed: %w", err)
	}

	return app, nil
}

// Run 运行所有长期服务，ctx 取消或任一服务出错时返回
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.TelegramBot.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.TelegramBot.Stop(context.WithoutCancel(gctx))
	})

	return g.Wait()
}

// Close 优雅关闭所有服务
// 应该在应用退出时调用，确保资源正确释放
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close MongoDB failed: %w", err))
		}
	}
	if a.Tracing != nil {
		if err := a.Tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
