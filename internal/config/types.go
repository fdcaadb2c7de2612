// Package config loads the connection core's tunable knobs: a layered
// viper configuration (defaults -> file -> environment) with optional
// fsnotify-driven hot reload, so an operator can change pool/timeout
// behaviour without a process restart.
package config

import (
	"time"

	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/pool"
)

// Config is the connection core's configuration surface, grouped one
// struct per subsystem.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Connect ConnectConfig `yaml:"connect"`
	Pool    PoolConfig    `yaml:"pool"`
}

// ConnectConfig carries the per-operation timeouts and fast-fallback switch.
type ConnectConfig struct {
	ConnectTimeoutMs         int64 `yaml:"connect_timeout_ms"`
	ReadTimeoutMs            int64 `yaml:"read_timeout_ms"`
	WriteTimeoutMs           int64 `yaml:"write_timeout_ms"`
	PingIntervalMs           int64 `yaml:"ping_interval_ms"`
	RetryOnConnectionFailure bool  `yaml:"retry_on_connection_failure"`
	FastFallback             bool  `yaml:"fast_fallback"`
}

func (c ConnectConfig) connectTimeout() time.Duration { return time.Duration(c.ConnectTimeoutMs) * time.Millisecond }
func (c ConnectConfig) readTimeout() time.Duration    { return time.Duration(c.ReadTimeoutMs) * time.Millisecond }
func (c ConnectConfig) writeTimeout() time.Duration   { return time.Duration(c.WriteTimeoutMs) * time.Millisecond }
func (c ConnectConfig) pingInterval() time.Duration   { return time.Duration(c.PingIntervalMs) * time.Millisecond }

// ConnectPlanConfig adapts this ConnectConfig into the connectplan.Config
// shape ConnectPlan actually consumes.
func (c ConnectConfig) ConnectPlanConfig() connectplan.Config {
	return connectplan.Config{
		ConnectTimeout: c.connectTimeout(),
		ReadTimeout:    c.readTimeout(),
		WriteTimeout:   c.writeTimeout(),
	}
}

// PoolConfig carries the pool-wide eviction knobs.
type PoolConfig struct {
	MaxIdleConnections  int   `yaml:"max_idle_connections"`
	KeepAliveDurationMs int64 `yaml:"keep_alive_duration_ms"`
}

func (c PoolConfig) keepAliveDuration() time.Duration {
	return time.Duration(c.KeepAliveDurationMs) * time.Millisecond
}

// PoolConfig adapts this PoolConfig into the pool.Config shape Pool
// actually consumes.
func (c PoolConfig) Adapt() pool.Config {
	return pool.Config{
		MaxIdleConnections: c.MaxIdleConnections,
		KeepAliveDuration:  c.keepAliveDuration(),
	}
}

// LoggingConfig carries the fields internal/logger.Config consumes.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	PrettyLogs bool   `yaml:"pretty_logs"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}
