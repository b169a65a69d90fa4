package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds connection settings for the chat backend.
type ServerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CacheConfig holds settings for the session message cache.
type CacheConfig struct {
	FreshnessSeconds int `mapstructure:"freshness_seconds"`
}

// StreamConfig holds settings for stream lifecycle handling.
type StreamConfig struct {
	BackgroundGraceSeconds int `mapstructure:"background_grace_seconds"`
}

// LoggingConfig holds logging preferences.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	LogFile string `mapstructure:"log_file"`
	Persist bool   `mapstructure:"persist"`
}

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Logging LoggingConfig `mapstructure:"logging"`
}

var global *Config

// Get returns the loaded configuration, loading defaults if Load was never
// called.
func Get() *Config {
	if global == nil {
		cfg, err := Load("")
		if err != nil {
			cfg = defaultConfig()
		}
		global = cfg
	}
	return global
}

// Load reads configuration from the given file (or the default location when
// empty), layered under environment variables and defaults.
func Load(cfgFile string) (*Config, error) {
	setDefaults()
	bindEnvironmentVariables()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("settings")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(SettingsDir())
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	global = cfg
	return cfg, nil
}

// SettingsDir returns the directory holding the settings file and logs.
func SettingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".duet"
	}
	return filepath.Join(home, ".duet")
}

// BuildSettingsPath returns a path inside the settings directory.
func BuildSettingsPath(filename string) string {
	return filepath.Join(SettingsDir(), filename)
}

// Timeout returns the server timeout as a duration.
func (c *Config) Timeout() time.Duration {
	if c.Server.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// FreshnessWindow returns the cache freshness window as a duration.
func (c *Config) FreshnessWindow() time.Duration {
	if c.Cache.FreshnessSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.Cache.FreshnessSeconds) * time.Second
}

// BackgroundGrace returns how long a stream may keep running after the app
// is backgrounded before it is cancelled.
func (c *Config) BackgroundGrace() time.Duration {
	if c.Stream.BackgroundGraceSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(c.Stream.BackgroundGraceSeconds) * time.Second
}

func setDefaults() {
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("server.timeout_seconds", 60)
	viper.SetDefault("cache.freshness_seconds", 300)
	viper.SetDefault("stream.background_grace_seconds", 25)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.log_file", "duet.log")
	viper.SetDefault("logging.persist", false)
}

func bindEnvironmentVariables() {
	viper.SetEnvPrefix("DUET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func defaultConfig() *Config {
	return &Config{
		Server:  ServerConfig{BaseURL: "http://localhost:8080", TimeoutSeconds: 60},
		Cache:   CacheConfig{FreshnessSeconds: 300},
		Stream:  StreamConfig{BackgroundGraceSeconds: 25},
		Logging: LoggingConfig{Level: "info", LogFile: "duet.log"},
	}
}
