package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`
	WindowLimit    int    `toml:"window_limit"`
	LogLevel       string `toml:"log_level"`

	Remote RemoteConfig `toml:"remote"`
	Store  StoreConfig  `toml:"store"`
	Probe  ProbeConfig  `toml:"probe"`
	Outbox OutboxConfig `toml:"outbox"`
}

type RemoteConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

type StoreConfig struct {
	Backend   string `toml:"backend"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

type ProbeConfig struct {
	Interval Duration `toml:"interval"`
}

type OutboxConfig struct {
	Interval   Duration `toml:"interval"`
	MaxBackoff Duration `toml:"max_backoff"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		UserID:      "me",
		WindowLimit: 50,
		LogLevel:    "info",
		Remote: RemoteConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: Duration{15 * time.Second},
		},
		Store: StoreConfig{
			Backend:   BackendSQLite,
			RedisAddr: "127.0.0.1:6379",
		},
		Probe:  ProbeConfig{Interval: Duration{10 * time.Second}},
		Outbox: OutboxConfig{Interval: Duration{30 * time.Second}, MaxBackoff: Duration{5 * time.Minute}},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// an error if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.WindowLimit <= 0 {
		return fmt.Errorf("window_limit must be positive, got %d", c.WindowLimit)
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overrides file values with CHATSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CHATSYNC_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("CHATSYNC_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv("CHATSYNC_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("CHATSYNC_STORE"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("CHATSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHATSYNC_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("CHATSYNC_WINDOW_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WindowLimit = n
		}
	}
}
