package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the paceline service.
// Values are loaded from environment variables; see the serve usage text for
// the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// Cycle geometry. BinCount must not exceed IntervalSeconds; one bin is
	// one one-second slot within the cycle.
	IntervalSeconds int     `json:"interval_seconds"`
	BinCount        int     `json:"bin_count"`
	MaxCV           float64 `json:"max_cv"`

	TaskBusBufferSize int `json:"taskbus_buffer_size"`

	// Schedule hand-off to the external scraper coordinator. Empty URL
	// disables webhook dispatch; batches are then drained to the log.
	ScraperWebhookURL        string        `json:"scraper_webhook_url,omitempty"`
	ScraperWebhookSecret     string        `json:"-"`
	ScraperWebhookTimeout    time.Duration `json:"-"`
	ScraperWebhookTimeoutStr string        `json:"scraper_webhook_timeout"`

	AuditEnabled  bool   `json:"audit_enabled"`
	AuditSchedule string `json:"audit_schedule"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout     time.Duration `json:"-"`
	HTTPShutdownTimeoutStr  string        `json:"http_shutdown_timeout"`
	DispatchDrainTimeout    time.Duration `json:"-"`
	DispatchDrainTimeoutStr string        `json:"dispatch_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// Leader election: with multiple replicas only the leader generates and
	// dispatches a schedule. All instances sharing a database must use the
	// same lock key.
	LeaderElectionEnabled      bool          `json:"leader_election_enabled"`
	LeaderLockKey              int64         `json:"leader_lock_key"`
	LeaderRetryInterval        time.Duration `json:"-"`
	LeaderRetryIntervalStr     string        `json:"leader_retry_interval"`
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		HTTPAddr:                 os.Getenv("HTTP_ADDR"),
		ScraperWebhookURL:        os.Getenv("SCRAPER_WEBHOOK_URL"),
		ScraperWebhookSecret:     os.Getenv("SCRAPER_WEBHOOK_SECRET"),
		ScraperWebhookTimeoutStr: os.Getenv("SCRAPER_WEBHOOK_TIMEOUT"),
		AuditEnabled:             os.Getenv("AUDIT_ENABLED") == "true",
		AuditSchedule:            os.Getenv("AUDIT_SCHEDULE"),
		DBOpTimeoutStr:           os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:     os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:     os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:   os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatchDrainTimeoutStr:  os.Getenv("DISPATCH_DRAIN_TIMEOUT"),
		MetricsEnabled:           os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:              os.Getenv("METRICS_PATH"),
		MetricsPort:              os.Getenv("METRICS_PORT"),
		LeaderElectionEnabled:    os.Getenv("LEADER_ELECTION_ENABLED") == "true",
	}

	cfg.IntervalSeconds = intEnv("INTERVAL_SECONDS", 300)
	cfg.BinCount = intEnv("BIN_COUNT", 300)
	cfg.TaskBusBufferSize = intEnv("TASKBUS_BUFFER_SIZE", 16)
	cfg.DBMaxOpenConns = intEnv("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = intEnv("DB_MAX_IDLE_CONNS", 5)
	cfg.CircuitBreakerThreshold = intEnv("CIRCUIT_BREAKER_THRESHOLD", 5)
	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")

	cfg.MaxCV = 0.5
	if s := os.Getenv("MAX_CV"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			cfg.MaxCV = v
		} else {
			log.Warn().Str("value", s).Msg("invalid MAX_CV (must be a positive number), using default 0.5")
		}
	}

	cfg.LeaderLockKey = 547211
	if s := os.Getenv("LEADER_LOCK_KEY"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil && v > 0 {
			cfg.LeaderLockKey = v
		} else {
			log.Warn().Str("value", s).Msg("invalid LEADER_LOCK_KEY (must be a positive integer), using default 547211")
		}
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.AuditSchedule == "" {
		cfg.AuditSchedule = "0 * * * *"
	}
	if cfg.ScraperWebhookTimeoutStr == "" {
		cfg.ScraperWebhookTimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatchDrainTimeoutStr == "" {
		cfg.DispatchDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.ScraperWebhookTimeout = durationOrZero(cfg.ScraperWebhookTimeoutStr)
	cfg.DBOpTimeout = durationOrZero(cfg.DBOpTimeoutStr)
	cfg.DBConnMaxLifetime = durationOrZero(cfg.DBConnMaxLifetimeStr)
	cfg.DBConnMaxIdleTime = durationOrZero(cfg.DBConnMaxIdleTimeStr)
	cfg.HTTPShutdownTimeout = durationOrZero(cfg.HTTPShutdownTimeoutStr)
	cfg.DispatchDrainTimeout = durationOrZero(cfg.DispatchDrainTimeoutStr)
	cfg.CircuitBreakerCooldown = durationOrZero(cfg.CircuitBreakerCooldownStr)
	cfg.LeaderRetryInterval = durationOrZero(cfg.LeaderRetryIntervalStr)
	cfg.LeaderHeartbeatInterval = durationOrZero(cfg.LeaderHeartbeatIntervalStr)

	return cfg
}

func intEnv(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		log.Warn().Str("value", s).Msgf("invalid %s (must be a positive integer), using default %d", name, def)
		return def
	}
	return n
}

func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
