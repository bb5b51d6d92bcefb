package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forward_bot/internal/app"
	"forward_bot/internal/config"
	"forward_bot/internal/logger"
)

func main() {
	// 初始化logger
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.L().Fatalf("配置无效: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	logger.L().Infof("Forward bot %s started", app.Version)
	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("Application stopped with error: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Close(closeCtx); err != nil {
		logger.L().Errorf("Failed to close application: %v", err)
	}
	logger.L().Info("Forward bot exited")
}
