package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the serve configuration.
type Config struct {
	Listen   string         `mapstructure:"listen"`
	Log      LogConfig      `mapstructure:"log"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Autosave AutosaveConfig `mapstructure:"autosave"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// BackendConfig locates the agent backend and the signed-in user.
type BackendConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	UserID    int           `mapstructure:"user_id"`
	UserEmail string        `mapstructure:"user_email"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// CacheConfig locates the local list cache. An empty path disables it.
type CacheConfig struct {
	Path string `mapstructure:"path"`
}

type AutosaveConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	Origins []string `mapstructure:"origins"`
}

func loadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Listen == "" {
		return cfg, fmt.Errorf("listen address is required")
	}
	if cfg.Autosave.Window < 0 {
		return cfg, fmt.Errorf("autosave.window must not be negative")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
