package sweeper

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config controls the reconciliation sweep cadence. None of it is
// correctness-critical, so operators may tune it at runtime.
type Config struct {
	RunInterval    time.Duration `mapstructure:"runInterval"`
	StuckThreshold time.Duration `mapstructure:"stuckThreshold"`
	BatchSize      int           `mapstructure:"batchSize"`
	JobTimeout     time.Duration `mapstructure:"jobTimeout"`
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		StuckThreshold: 15 * time.Minute,
		BatchSize:      50,
		JobTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = defaults.StuckThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

// ConfigHolder serves the current sweep config and hot-reloads it when
// the backing file changes.
type ConfigHolder struct {
	current atomic.Value
}

func NewConfigHolder(path string, log *zap.Logger) (*ConfigHolder, error) {
	v := viper.New()
	v.SetConfigName("sweeper")
	v.SetConfigType("yml")
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("/etc/payflow")
		v.AddConfigPath(".")
	}

	holder := &ConfigHolder{}
	holder.current.Store(DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no file: defaults apply, nothing to watch
		return holder, nil
	}

	load := func() {
		var cfg Config
		if err := v.UnmarshalKey("sweep", &cfg); err != nil {
			log.Warn("invalid sweeper config, keeping previous", zap.Error(err))
			return
		}
		holder.current.Store(cfg.withDefaults())
	}
	load()

	v.OnConfigChange(func(_ fsnotify.Event) {
		load()
		log.Info("sweeper config reloaded")
	})
	v.WatchConfig()

	return holder, nil
}

func (h *ConfigHolder) Current() Config {
	if h == nil {
		return DefaultConfig()
	}
	cfg, ok := h.current.Load().(Config)
	if !ok {
		return DefaultConfig()
	}
	return cfg
}
