// Package config loads reel's settings from YAML and REEL_* environment
// variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mmcdole/reel/internal/retry"
)

// Config holds all application configuration
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Logging LoggingConfig `mapstructure:"logging"`
	Adapter AdapterConfig `mapstructure:"adapter"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Merge   MergeConfig   `mapstructure:"merge"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Images  ImagesConfig  `mapstructure:"images"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// AdapterConfig bounds every call made to a media server
type AdapterConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // Requests per second per source
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"` // Consecutive failures that open the breaker
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// SyncConfig controls catalog paging
type SyncConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// MergeConfig tunes playback conflict resolution
type MergeConfig struct {
	RemoteSkew time.Duration `mapstructure:"remote_skew"` // Remote must be newer by more than this
}

// RetryConfig is the backoff shared by sync retries and health checks
type RetryConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxInterval time.Duration `mapstructure:"max_interval"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// MonitorConfig holds the health-check cadence per endpoint tier
type MonitorConfig struct {
	LocalInterval   time.Duration `mapstructure:"local_interval"`
	RemoteInterval  time.Duration `mapstructure:"remote_interval"`
	RelayInterval   time.Duration `mapstructure:"relay_interval"`
	DisconnectAfter int           `mapstructure:"disconnect_after"`
}

// ImagesConfig sizes the thumbnail fetch pool
type ImagesConfig struct {
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BrokerConfig sizes subscriber queues
type BrokerConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// MetricsConfig enables the Prometheus listener when Listen is set
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := defaultDataPath()
	return &Config{
		DataDir: dataDir,
		Logging: LoggingConfig{
			File:  filepath.Join(dataDir, "reel.log"),
			Level: "INFO",
		},
		Adapter: AdapterConfig{
			Timeout:         15 * time.Second,
			RateLimit:       10,
			Burst:           20,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Sync: SyncConfig{
			PageSize: 100,
		},
		Merge: MergeConfig{
			RemoteSkew: 0,
		},
		Retry: RetryConfig{
			Initial:     2 * time.Second,
			Multiplier:  2,
			MaxInterval: 10 * time.Minute,
			MaxRetries:  4,
		},
		Monitor: MonitorConfig{
			LocalInterval:   15 * time.Second,
			RemoteInterval:  60 * time.Second,
			RelayInterval:   120 * time.Second,
			DisconnectAfter: 1,
		},
		Images: ImagesConfig{
			Workers: 4,
			Timeout: 20 * time.Second,
		},
		Broker: BrokerConfig{
			Buffer: 256,
		},
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "reel")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "reel")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "reel")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "reel")
	}
}

// LoadConfig loads configuration from file and environment. An empty path
// searches the default config directory and the working directory.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. REEL_SYNC_PAGE_SIZE
	v.SetEnvPrefix("REEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Logging.File = expandHome(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("adapter.timeout", cfg.Adapter.Timeout)
	v.SetDefault("adapter.rate_limit", cfg.Adapter.RateLimit)
	v.SetDefault("adapter.burst", cfg.Adapter.Burst)
	v.SetDefault("adapter.breaker_failures", cfg.Adapter.BreakerFailures)
	v.SetDefault("adapter.breaker_cooldown", cfg.Adapter.BreakerCooldown)
	v.SetDefault("sync.page_size", cfg.Sync.PageSize)
	v.SetDefault("merge.remote_skew", cfg.Merge.RemoteSkew)
	v.SetDefault("retry.initial", cfg.Retry.Initial)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.max_interval", cfg.Retry.MaxInterval)
	v.SetDefault("retry.max_retries", cfg.Retry.MaxRetries)
	v.SetDefault("monitor.local_interval", cfg.Monitor.LocalInterval)
	v.SetDefault("monitor.remote_interval", cfg.Monitor.RemoteInterval)
	v.SetDefault("monitor.relay_interval", cfg.Monitor.RelayInterval)
	v.SetDefault("monitor.disconnect_after", cfg.Monitor.DisconnectAfter)
	v.SetDefault("images.workers", cfg.Images.Workers)
	v.SetDefault("images.timeout", cfg.Images.Timeout)
	v.SetDefault("broker.buffer", cfg.Broker.Buffer)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate rejects settings the runtime cannot honor
func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir must be set")
	}
	if c.Adapter.Timeout <= 0 {
		problems = append(problems, "adapter.timeout must be positive")
	}
	if c.Adapter.RateLimit <= 0 || c.Adapter.Burst <= 0 {
		problems = append(problems, "adapter.rate_limit and adapter.burst must be positive")
	}
	if c.Sync.PageSize <= 0 {
		problems = append(problems, "sync.page_size must be positive")
	}
	if c.Merge.RemoteSkew < 0 {
		problems = append(problems, "merge.remote_skew must not be negative")
	}
	if c.Retry.Initial <= 0 || c.Retry.MaxInterval < c.Retry.Initial {
		problems = append(problems, "retry.initial must be positive and not above retry.max_interval")
	}
	if c.Retry.Multiplier < 1 {
		problems = append(problems, "retry.multiplier must be at least 1")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}
	if c.Monitor.LocalInterval <= 0 || c.Monitor.RemoteInterval <= 0 || c.Monitor.RelayInterval <= 0 {
		problems = append(problems, "monitor intervals must be positive")
	}
	if c.Monitor.DisconnectAfter < 1 {
		problems = append(problems, "monitor.disconnect_after must be at least 1")
	}
	if c.Images.Workers <= 0 {
		problems = append(problems, "images.workers must be positive")
	}
	if c.Broker.Buffer <= 0 {
		problems = append(problems, "broker.buffer must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy converts the retry section into the shared backoff policy
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Initial:     c.Retry.Initial,
		Multiplier:  c.Retry.Multiplier,
		MaxInterval: c.Retry.MaxInterval,
		MaxRetries:  c.Retry.MaxRetries,
	}
}

// EnsureDirectories creates the data directory
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// DatabasePath is the SQLite catalog location
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "reel.db")
}

// ImageCachePath is the bbolt thumbnail cache location
func (c *Config) ImageCachePath() string {
	return filepath.Join(c.DataDir, "images.db")
}

// CredentialsPath is the bbolt credential store location
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.db")
}

// LockPath guards against two processes sharing one data directory
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "reel.lock")
}
