package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

type AppConfig struct {
	HTTPPort          string   `envconfig:"HTTP_PORT" default:"8080"`
	PostgresDSN       string   `envconfig:"DATABASE_URL" default:"host=localhost port=5432 user=linhe dbname=bq_ingest sslmode=disable"`
	RedisURL          string   `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	QueueNames        []string `envconfig:"QUEUE_NAMES" default:"default"`
	WorkerConcurrency int      `envconfig:"WORKER_CONCURRENCY" default:"1"`

	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogConsole bool   `envconfig:"LOG_CONSOLE" default:"false"`

	// worker 回调 api 的地址与节流
	DispatchBaseURL     string  `envconfig:"DISPATCH_BASE_URL" default:"http://localhost:8080"`
	DispatchRate        float64 `envconfig:"DISPATCH_RATE" default:"10"`
	DispatchMaxAttempts int     `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"5"`

	// 导入限流与备份轮询
	LoadRateLimitKey     string        `envconfig:"LOAD_RATE_LIMIT_KEY" default:"bigquery-load"`
	LoadDelay            time.Duration `envconfig:"LOAD_DELAY" default:"60s"`
	BackupMaxAge         time.Duration `envconfig:"BACKUP_MAX_AGE" default:"15m"`
	BackupRetryCountdown time.Duration `envconfig:"BACKUP_RETRY_COUNTDOWN" default:"3m"`

	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	GCPCredentialsFile string `envconfig:"GCP_CREDENTIALS_FILE"`
	BigqueryProjectID  string `envconfig:"BIGQUERY_PROJECT_ID"`
	BigqueryDatasetID  string `envconfig:"BIGQUERY_DATASET_ID" default:"datastore"`
	BackupBucket       string `envconfig:"BACKUP_BUCKET"`
	BackupNamePrefix   string `envconfig:"BACKUP_NAME_PREFIX" default:"bq_backup_"`

	SchedulerTickInterval time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"10s"`
	SchedulerTimezone     string        `envconfig:"SCHEDULER_TIMEZONE" default:"Asia/Shanghai"`
}

// Load 从环境变量读取配置，未设置的使用默认值
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, errors.Wrap(err, "load config from env")
	}

	// 按逗号分割队列名，去除空白
	var queues []string
	for _, q := range cfg.QueueNames {
		if trimmed := strings.TrimSpace(q); trimmed != "" {
			queues = append(queues, trimmed)
		}
	}
	if len(queues) == 0 {
		queues = []string{"default"}
	}
	cfg.QueueNames = queues

	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}
	if cfg.BigqueryProjectID == "" {
		cfg.BigqueryProjectID = cfg.GCPProjectID
	}
	if cfg.LoadDelay <= 0 {
		return AppConfig{}, errors.Errorf("LOAD_DELAY must be positive, got %s", cfg.LoadDelay)
	}
	return cfg, nil
}

// DefaultQueue 未指定队列时使用的队列
func (c AppConfig) DefaultQueue() string {
	return c.QueueNames[0]
}
