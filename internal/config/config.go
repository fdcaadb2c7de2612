package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/thushan/hconnect/internal/connectplan"
	"github.com/thushan/hconnect/internal/pool"
)

const (
	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to let a file write settle before reload
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, mirroring
// the constants ConnectPlan and Pool already fall back to on a zero Config.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			PrettyLogs: true,
			FileOutput: false,
			LogDir:     "./logs",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Connect: ConnectConfig{
			ConnectTimeoutMs:         int64(connectplan.DefaultConnectTimeout / time.Millisecond),
			ReadTimeoutMs:            int64(connectplan.DefaultReadTimeout / time.Millisecond),
			WriteTimeoutMs:           int64(connectplan.DefaultWriteTimeout / time.Millisecond),
			PingIntervalMs:           int64(connectplan.DefaultKeepAlive / time.Millisecond),
			RetryOnConnectionFailure: true,
			FastFallback:             true,
		},
		Pool: PoolConfig{
			MaxIdleConnections:  pool.DefaultMaxIdleConnections,
			KeepAliveDurationMs: int64(pool.DefaultKeepAliveDuration / time.Millisecond),
		},
	}
}

// Load loads configuration from file and environment variables: defaults
// first, then an optional config file, then environment overrides, with
// fsnotify-driven hot reload on top.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("HCONNECT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("HCONNECT_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore multiple rapid changes
			}
			lastReload = now

			// on some platforms this event fires before the write completes
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}
	return cfg, nil
}
