package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the core runtime configuration for a service instance.
// It supports environment-based initialization, with sensible defaults.
type Config struct {
	ServiceName string // e.g. "stock-sync"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // service HTTP / metrics port

	DatabaseURL string
	RedisAddr   string // e.g. localhost:6379
	RedisDB     int
	RedisPass   string
	NATSURL     string // e.g. nats://localhost:4222
	AWSRegion   string // for AWS SDK client

	CacheTTL    time.Duration // TTL for the credential cache
	CleanupFreq time.Duration // frequency for cache cleanup goroutine

	// Marketplace connection; token/base URL are normally resolved from AWS
	// Secrets Manager, these are the local-dev fallback.
	MarketplaceBaseURL string
	MarketplaceToken   string

	// Rate limiting. Per-endpoint overrides come on top of these defaults;
	// the global bucket caps all endpoints together.
	GlobalRPS          float64
	GlobalBurst        int
	EndpointRPS        float64
	EndpointBurst      int
	RateQueueTimeout   time.Duration
	RateCooldownFactor float64
	RateRecoveryStep   float64

	// Retry policy.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Bulk report task polling.
	ReportPollInterval time.Duration
	ReportMaxWait      time.Duration

	// Order feed window.
	OrdersDaysBack int
	OrdersFlag     int

	// Sync schedule and cycle bounds.
	SyncInterval time.Duration
	SyncTime     time.Time // preferred daily start, HH:MM
	CycleTimeout time.Duration
	SessionTTL   time.Duration

	// Sink connection and batch sizing.
	SinkBaseURL       string
	SinkToken         string
	SinkDocumentID    string
	SinkSheetName     string
	BatchMin          int
	BatchOptimal      int
	BatchMax          int
	BatchConcurrency  int
	BatchLatencyLimit time.Duration
	BatchThroughput   float64

	SummaryRefreshFreq time.Duration

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: GetEnv("SERVICE_NAME", "stock-sync"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("SYNC_PORT", 9020),

		DatabaseURL: GetEnv("DATABASE_URL", ""),
		RedisAddr:   GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),
		NATSURL:     GetEnv("NATS_URL", "nats://localhost:4222"),
		AWSRegion:   GetEnv("AWS_REGION", "us-east-2"),

		CacheTTL:    GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq: GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),

		MarketplaceBaseURL: GetEnv("MARKETPLACE_BASE_URL", "https://statistics-api.wildberries.ru"),
		MarketplaceToken:   GetEnv("MARKETPLACE_TOKEN", ""),

		GlobalRPS:          GetEnvFloat("RATE_GLOBAL_RPS", 10),
		GlobalBurst:        GetEnvInt("RATE_GLOBAL_BURST", 20),
		EndpointRPS:        GetEnvFloat("RATE_ENDPOINT_RPS", 1),
		EndpointBurst:      GetEnvInt("RATE_ENDPOINT_BURST", 3),
		RateQueueTimeout:   GetEnvDuration("RATE_QUEUE_TIMEOUT", 30*time.Second),
		RateCooldownFactor: GetEnvFloat("RATE_COOLDOWN_FACTOR", 0.5),
		RateRecoveryStep:   GetEnvFloat("RATE_RECOVERY_STEP", 0.01),

		RetryMaxAttempts: GetEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   GetEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:    GetEnvDuration("RETRY_MAX_DELAY", 30*time.Second),

		ReportPollInterval: GetEnvDuration("REPORT_POLL_INTERVAL", 30*time.Second),
		ReportMaxWait:      GetEnvDuration("REPORT_MAX_WAIT", 15*time.Minute),

		OrdersDaysBack: GetEnvInt("ORDERS_DAYS_BACK", 30),
		OrdersFlag:     GetEnvInt("ORDERS_FLAG", 0),

		SyncInterval: GetEnvDuration("SYNC_INTERVAL", 24*time.Hour),
		SyncTime:     GetEnvTime("SYNC_TIME", "06:00"),
		CycleTimeout: GetEnvDuration("CYCLE_TIMEOUT", 30*time.Minute),
		SessionTTL:   GetEnvDuration("SESSION_TTL", 48*time.Hour),

		SinkBaseURL:       GetEnv("SINK_BASE_URL", ""),
		SinkToken:         GetEnv("SINK_TOKEN", ""),
		SinkDocumentID:    GetEnv("SINK_DOCUMENT_ID", ""),
		SinkSheetName:     GetEnv("SINK_SHEET_NAME", "Stock"),
		BatchMin:          GetEnvInt("BATCH_MIN", 5),
		BatchOptimal:      GetEnvInt("BATCH_OPTIMAL", 20),
		BatchMax:          GetEnvInt("BATCH_MAX", 100),
		BatchConcurrency:  GetEnvInt("BATCH_CONCURRENCY", 3),
		BatchLatencyLimit: GetEnvDuration("BATCH_LATENCY_LIMIT", 50*time.Millisecond),
		BatchThroughput:   GetEnvFloat("BATCH_THROUGHPUT", 100),

		SummaryRefreshFreq: GetEnvDuration("SUMMARY_REFRESH_FREQ", 24*time.Hour),

		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}

	return cfg
}
