package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/R-uan/rc/internal/logging"
)

// Config holds all runtime configuration for the relay.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Relay   RelayConfig    `mapstructure:"relay"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging logging.Config `mapstructure:"logging"`
}

// ServerConfig contains network level settings for the TCP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// RelayConfig controls engine capacities and the worker pool.
type RelayConfig struct {
	MaxClients      int `mapstructure:"max_clients"`
	MaxChannels     int `mapstructure:"max_channels"`
	Workers         int `mapstructure:"workers"`
	WorkerQueueSize int `mapstructure:"worker_queue_size"`
}

// MetricsConfig controls the Prometheus side listener.
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Load reads configuration from environment variables and an optional config
// file. Defaults are sufficient to run; no environment variable is required.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3000)

	v.SetDefault("relay.max_clients", 1000)
	v.SetDefault("relay.max_channels", 15)
	v.SetDefault("relay.workers", 10)
	v.SetDefault("relay.worker_queue_size", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9301")
	v.SetDefault("metrics.sample_interval", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("rc")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	// Config file is optional.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Relay.Workers <= 0 {
		cfg.Relay.Workers = 10
	}
	if cfg.Relay.MaxClients <= 0 {
		cfg.Relay.MaxClients = 1000
	}
	if cfg.Relay.MaxChannels <= 0 {
		cfg.Relay.MaxChannels = 15
	}

	return cfg, nil
}
