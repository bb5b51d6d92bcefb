package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 应用程序配置
type Config struct {
	TelegramToken string  // Telegram Bot API Token
	BotOwnerIDs   []int64 // Bot 管理员 ID 列表
	MongoURI      string  // MongoDB 连接 URI
	MongoDBName   string  // MongoDB 数据库名称
	Forward       ForwardConfig
	Tracing       TracingConfig
}

// ForwardConfig 转发任务相关配置
type ForwardConfig struct {
	LogChannelID     int64         // 中转频道 ID，0 表示直接复制
	MaxSyncMessages  int           // 单个任务最大消息数
	MaxJobsPerUser   int           // 每个用户同时运行的任务上限
	MinDelay         time.Duration // 逐条发送的基础间隔
	MaxDelay         time.Duration // 基础间隔加错误升级后的上限
	MaxRetries       int           // 单次远端调用的最大重试次数
	BatchSize        int           // 每处理多少条做一次批次冷却
	ProgressEvery    int           // 每处理多少条刷新进度
	ProgressInterval time.Duration // 最长多久刷新一次进度
	PendingTTL       time.Duration // 待确认请求的有效期
	APIRatePerSecond int           // 全局远端调用速率上限
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled      bool
	UseStdout    bool
	OTLPEndpoint string
	SampleRate   float64
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	mongoDBName := os.Getenv("MONGO_DB_NAME")
	if mongoDBName == "" {
		mongoDBName = "telegram_forward_bot"
	}

	cfg := &Config{
		TelegramToken: strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		MongoURI:      strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDBName:   mongoDBName,
	}

	// 解析BOT_OWNER_IDS
	ownerIDsStr := os.Getenv("BOT_OWNER_IDS")
	if ownerIDsStr != "" {
		var err error
		cfg.BotOwnerIDs, err = parseOwnerIDs(ownerIDsStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse BOT_OWNER_IDS: %w", err)
		}
	}

	forwardCfg, err := loadForwardConfig()
	if err != nil {
		return nil, err
	}
	cfg.Forward = forwardCfg

	tracingCfg, err := loadTracingConfig()
	if err != nil {
		return nil, err
	}
	cfg.Tracing = tracingCfg

	return cfg, nil
}

// Validate 检查必填项与取值关系
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.Forward.MaxSyncMessages < 1 {
		return fmt.Errorf("MAX_SYNC_MESSAGES must be >= 1, got %d", c.Forward.MaxSyncMessages)
	}
	if c.Forward.MaxJobsPerUser < 1 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS_PER_USER must be >= 1, got %d", c.Forward.MaxJobsPerUser)
	}
	if c.Forward.MinDelay < 0 || c.Forward.MaxDelay < c.Forward.MinDelay {
		return fmt.Errorf("invalid delay range: min %s, max %s", c.Forward.MinDelay, c.Forward.MaxDelay)
	}
	if c.Forward.MaxRetries < 0 {
		return fmt.Errorf("FORWARD_MAX_RETRIES must be >= 0, got %d", c.Forward.MaxRetries)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE must be between 0 and 1, got %v", c.Tracing.SampleRate)
	}
	return nil
}

func loadForwardConfig() (ForwardConfig, error) {
	var (
		cfg ForwardConfig
		err error
	)

	if cfg.LogChannelID, err = envInt64("LOG_CHANNEL", 0); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.MaxSyncMessages, err = envInt("MAX_SYNC_MESSAGES", 5000); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.MaxJobsPerUser, err = envInt("MAX_CONCURRENT_JOBS_PER_USER", 3); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.MinDelay, err = envSeconds("MIN_DELAY_BETWEEN_MESSAGES", 2.0); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.MaxDelay, err = envSeconds("MAX_DELAY_BETWEEN_MESSAGES", 5.0); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.MaxRetries, err = envInt("FORWARD_MAX_RETRIES", 3); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.BatchSize, err = envInt("FORWARD_BATCH_SIZE", 50); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.ProgressEvery, err = envInt("PROGRESS_EVERY_MESSAGES", 20); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.ProgressInterval, err = envSeconds("PROGRESS_INTERVAL_SECONDS", 10); err != nil {
		return ForwardConfig{}, err
	}
	if cfg.APIRatePerSecond, err = envInt("TELEGRAM_API_RATE", 25); err != nil {
		return ForwardConfig{}, err
	}

	minutes, err := envInt("PENDING_REQUEST_TTL_MINUTES", 60)
	if err != nil {
		return ForwardConfig{}, err
	}
	cfg.PendingTTL = time.Duration(minutes) * time.Minute

	return cfg, nil
}

func loadTracingConfig() (TracingConfig, error) {
	cfg := TracingConfig{
		OTLPEndpoint: "localhost:4318",
	}
	var err error

	if cfg.Enabled, err = envBool("TRACING_ENABLED", false); err != nil {
		return TracingConfig{}, err
	}
	if cfg.UseStdout, err = envBool("TRACING_STDOUT", true); err != nil {
		return TracingConfig{}, err
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.OTLPEndpoint = endpoint
	}
	if cfg.SampleRate, err = envFloat("TRACING_SAMPLE_RATE", 1.0); err != nil {
		return TracingConfig{}, err
	}
	return cfg, nil
}

// parseOwnerIDs 解析逗号分隔的用户ID字符串
// 支持格式: "123456789" 或 "123456789,987654321"
func parseOwnerIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid owner ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}

// envSeconds 支持小数秒，例如 "2.5"
func envSeconds(key string, def float64) (time.Duration, error) {
	v, err := envFloat(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return v, nil
}
