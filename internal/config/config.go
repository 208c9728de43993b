package config

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/queue"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Bridge (browser-automation client that owns the device sessions)
	BridgeBaseURL   string  `envconfig:"BRIDGE_BASE_URL" required:"true"`
	BridgeAPIKey    string  `envconfig:"BRIDGE_API_KEY"`
	BridgeTimeoutMs int     `envconfig:"BRIDGE_TIMEOUT_MS" default:"30000"`
	BridgeRPS       float64 `envconfig:"BRIDGE_RPS" default:"5"`
	BridgeBurst     int     `envconfig:"BRIDGE_BURST" default:"10"`

	// Dispatch loop
	TickIntervalMs      int `envconfig:"TICK_INTERVAL_MS" default:"300"`
	HealthRecomputeSecs int `envconfig:"HEALTH_RECOMPUTE_SECS" default:"60"`

	// Queue pacing defaults; hot-swappable afterwards via PUT /v1/queue/config
	MinDelayMs        int  `envconfig:"QUEUE_MIN_DELAY_MS" default:"2000"`
	MaxDelayMs        int  `envconfig:"QUEUE_MAX_DELAY_MS" default:"8000"`
	MessagesPerMinute int  `envconfig:"QUEUE_MESSAGES_PER_MINUTE" default:"10"`
	BurstLimit        int  `envconfig:"QUEUE_BURST_LIMIT" default:"3"`
	MaxAttempts       int  `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	RetryDelayMs      int  `envconfig:"QUEUE_RETRY_DELAY_MS" default:"5000"`
	TypingDelay       bool `envconfig:"QUEUE_TYPING_DELAY" default:"true"`

	// Health tuning
	WarmupDays        int `envconfig:"HEALTH_WARMUP_DAYS" default:"7"`
	CriticalHourlyCap int `envconfig:"HEALTH_CRITICAL_HOURLY_CAP" default:"10"`

	// Audit ledger (optional; disabled when empty)
	DBDSN      string `envconfig:"DB_DSN"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"4"`

	// Health snapshot cache (optional; disabled when empty)
	RedisAddr         string `envconfig:"REDIS_ADDR"`
	RedisPassword     string `envconfig:"REDIS_PASSWORD"`
	RedisSnapshotTTLs int    `envconfig:"REDIS_SNAPSHOT_TTL_SECS" default:"300"`

	// SQS ingestion (optional; disabled when queue URL empty)
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string `envconfig:"SQS_QUEUE_URL"`
	SQSWaitTime        int32  `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs         int32  `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout      int32  `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

func Load() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

// QueueConfig extracts the initial hot-swappable pacing config.
func (c Config) QueueConfig() queue.Config {
	return queue.Config{
		MinDelayMs:            c.MinDelayMs,
		MaxDelayMs:            c.MaxDelayMs,
		MessagesPerMinute:     c.MessagesPerMinute,
		BurstLimit:            c.BurstLimit,
		MaxAttempts:           c.MaxAttempts,
		RetryDelayMs:          c.RetryDelayMs,
		TypingDelaySimulation: c.TypingDelay,
	}
}
