// Package util provides configuration and logging for tunnelguard.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Supervised engine
	SingboxPath    string        `mapstructure:"singbox_path"`
	TunnelConfig   string        `mapstructure:"tunnel_config"`
	StatsEndpoint  string        `mapstructure:"stats_endpoint"`
	StartupWindow  time.Duration `mapstructure:"startup_window"`
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`

	// Monitoring intervals
	NetworkPollInterval time.Duration `mapstructure:"network_poll_interval"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	StatsInterval       time.Duration `mapstructure:"stats_interval"`

	// Reachability probe
	ProbeURL     string        `mapstructure:"probe_url"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`

	// Reconnection policy
	ReconnectionEnabled bool          `mapstructure:"reconnection_enabled"`
	MaxRetryAttempts    int           `mapstructure:"max_retry_attempts"`
	InitialRetryDelay   time.Duration `mapstructure:"initial_retry_delay"`
	MaxRetryDelay       time.Duration `mapstructure:"max_retry_delay"`
	BackoffMultiplier   float64       `mapstructure:"backoff_multiplier"`

	// Web server
	WebPort int `mapstructure:"web_port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".tunnelguard")

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "tunnelguard.log"),

		StartupWindow:   3 * time.Second,
		StopGracePeriod: 5 * time.Second,

		NetworkPollInterval: 5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		StatsInterval:       time.Second,

		ProbeURL:     "http://www.google.com",
		ProbeTimeout: 10 * time.Second,

		ReconnectionEnabled: true,
		MaxRetryAttempts:    10,
		InitialRetryDelay:   time.Second,
		MaxRetryDelay:       time.Minute,
		BackoffMultiplier:   2.0,

		WebPort: 8080,
	}
}

// LoadConfig loads configuration from file and environment.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(cfg.DataDir)
	viper.AddConfigPath(".")

	viper.SetDefault("data_dir", cfg.DataDir)
	viper.SetDefault("log_level", cfg.LogLevel)
	viper.SetDefault("singbox_path", cfg.SingboxPath)
	viper.SetDefault("tunnel_config", cfg.TunnelConfig)
	viper.SetDefault("stats_endpoint", cfg.StatsEndpoint)
	viper.SetDefault("network_poll_interval", cfg.NetworkPollInterval)
	viper.SetDefault("health_check_interval", cfg.HealthCheckInterval)
	viper.SetDefault("stats_interval", cfg.StatsInterval)
	viper.SetDefault("probe_url", cfg.ProbeURL)
	viper.SetDefault("probe_timeout", cfg.ProbeTimeout)
	viper.SetDefault("reconnection_enabled", cfg.ReconnectionEnabled)
	viper.SetDefault("max_retry_attempts", cfg.MaxRetryAttempts)
	viper.SetDefault("initial_retry_delay", cfg.InitialRetryDelay)
	viper.SetDefault("max_retry_delay", cfg.MaxRetryDelay)
	viper.SetDefault("backoff_multiplier", cfg.BackoffMultiplier)
	viper.SetDefault("web_port", cfg.WebPort)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
