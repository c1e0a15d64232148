package config

import (
	"os"
	"strconv"
	"time"

	"github.com/AbuAli85/business-services-hub-sub011/pkg/apperr"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	// SlowQueryMs is the threshold above which queries are logged as slow.
	SlowQueryMs int `yaml:"slow_query_ms"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// MetricsPort serves /metrics for binaries without an HTTP API.
	MetricsPort string `yaml:"metrics_port"`
}

// RealtimeConfig tunes the sync client and its change feed.
type RealtimeConfig struct {
	BaseDelayMs        int    `yaml:"base_delay_ms"`
	MaxDelayMs         int    `yaml:"max_delay_ms"`
	MaxAttempts        int    `yaml:"max_attempts"`
	SubscribeTimeoutMs int    `yaml:"subscribe_timeout_ms"`
	DedupWindowMs      int    `yaml:"dedup_window_ms"`
	NotifyChannel      string `yaml:"notify_channel"`
}

func (c RealtimeConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

func (c RealtimeConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

func (c RealtimeConfig) SubscribeTimeout() time.Duration {
	return time.Duration(c.SubscribeTimeoutMs) * time.Millisecond
}

func (c RealtimeConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMs) * time.Millisecond
}

// DispatcherConfig holds debounce windows for the local event bus.
type DispatcherConfig struct {
	AggregateDebounceMs int `yaml:"aggregate_debounce_ms"`
	DetailDebounceMs    int `yaml:"detail_debounce_ms"`
}

func (c DispatcherConfig) AggregateDebounce() time.Duration {
	return time.Duration(c.AggregateDebounceMs) * time.Millisecond
}

func (c DispatcherConfig) DetailDebounce() time.Duration {
	return time.Duration(c.DetailDebounceMs) * time.Millisecond
}

type OutboxConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`
}

type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	DB         DBConfig         `yaml:"db"`
	MQ         MQConfig         `yaml:"mq"`
	Redis      RedisConfig      `yaml:"redis"`
	JWT        JWTConfig        `yaml:"jwt"`
	Server     ServerConfig     `yaml:"server"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Otel       OtelConfig       `yaml:"otel"`
}

// ApplyDefaults fills zero values with the documented defaults.
func (c *Config) ApplyDefaults() {
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.SSLMode == "" {
		c.DB.SSLMode = "disable"
	}
	if c.DB.SlowQueryMs == 0 {
		c.DB.SlowQueryMs = 100
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = ":9091"
	}
	if c.Realtime.BaseDelayMs == 0 {
		c.Realtime.BaseDelayMs = 1000
	}
	if c.Realtime.MaxDelayMs == 0 {
		c.Realtime.MaxDelayMs = 30000
	}
	if c.Realtime.MaxAttempts == 0 {
		c.Realtime.MaxAttempts = 5
	}
	if c.Realtime.SubscribeTimeoutMs == 0 {
		c.Realtime.SubscribeTimeoutMs = 10000
	}
	if c.Realtime.DedupWindowMs == 0 {
		c.Realtime.DedupWindowMs = 2000
	}
	if c.Realtime.NotifyChannel == "" {
		c.Realtime.NotifyChannel = "progress_changes"
	}
	if c.Dispatcher.AggregateDebounceMs == 0 {
		c.Dispatcher.AggregateDebounceMs = 1000
	}
	if c.Outbox.IntervalMs == 0 {
		c.Outbox.IntervalMs = 1000
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
}

// Validate reports missing required settings. Requirements differ per binary,
// so callers pass which subsystems they use.
func (c *Config) Validate(needMQ, needJWT bool) error {
	if c.DB.Host == "" {
		return apperr.FatalConfig("db.host is required")
	}
	if c.DB.Name == "" {
		return apperr.FatalConfig("db.name is required")
	}
	if needMQ && c.MQ.URL == "" {
		return apperr.FatalConfig("mq.url is required")
	}
	if needJWT && c.JWT.Secret == "" {
		return apperr.FatalConfig("jwt.secret is required")
	}
	if c.Realtime.MaxAttempts < 1 {
		return apperr.FatalConfig("realtime.max_attempts must be positive")
	}
	return nil
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

func OverrideOtelFromEnv(cfg *OtelConfig) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
		cfg.Enabled = true
	}
}
