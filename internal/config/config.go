package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Clock policies for move timing.
const (
	ClockClient = "client"
	ClockServer = "server"
)

type AppConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	StatusAddr     string   `yaml:"status_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	RedisURL       string `yaml:"redis_url"`
	DatabaseURL    string `yaml:"database_url"`
	SnapshotTTLSec int    `yaml:"snapshot_ttl_sec"`

	StartDelayMS       int     `yaml:"start_delay_ms"`
	DisconnectGraceSec int     `yaml:"disconnect_grace_sec"`
	DefaultTimeControl int     `yaml:"default_time_control"`
	ClockPolicy        string  `yaml:"clock_policy"`
	BotDelayScale      float64 `yaml:"bot_delay_scale"`

	StockfishPath     string `yaml:"stockfish_path"`
	StockfishCapacity int    `yaml:"stockfish_capacity"`

	MessagesDir string `yaml:"messages_dir"`

	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	LogConsole bool   `yaml:"log_console"`
	LogToFile  bool   `yaml:"log_to_file"`
	LogFile    string `yaml:"log_file"`
	LogCaller  bool   `yaml:"log_caller"`
}

func Defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:         ":8080",
		StatusAddr:         ":8081",
		SnapshotTTLSec:     86400,
		StartDelayMS:       5000,
		DisconnectGraceSec: 30,
		DefaultTimeControl: 600,
		ClockPolicy:        ClockClient,
		BotDelayScale:      1,
		LogLevel:           "info",
		LogFormat:          "legacy",
		LogConsole:         true,
	}
}

// Load applies defaults, then the YAML file at path (or CONFIG_FILE), then environment variables.
func Load(path string) (*AppConfig, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.StatusAddr, "STATUS_ADDR")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.StockfishPath, "STOCKFISH_PATH")
	setString(&c.MessagesDir, "MESSAGES_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.LogFile, "LOG_FILE")

	if v := strings.TrimSpace(os.Getenv("CLOCK_POLICY")); v != "" {
		c.ClockPolicy = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.AllowedOrigins = c.AllowedOrigins[:0]
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	}

	setPositiveInt(&c.SnapshotTTLSec, "SNAPSHOT_TTL_SEC")
	setPositiveInt(&c.DisconnectGraceSec, "DISCONNECT_GRACE_SEC")
	setPositiveInt(&c.DefaultTimeControl, "DEFAULT_TIME_CONTROL")
	setPositiveInt(&c.StockfishCapacity, "STOCKFISH_CAPACITY")
	if v := strings.TrimSpace(os.Getenv("START_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.StartDelayMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_DELAY_SCALE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.BotDelayScale = f
		}
	}

	setBool(&c.LogConsole, "LOG_TO_CONSOLE")
	setBool(&c.LogToFile, "LOG_TO_FILE")
	setBool(&c.LogCaller, "LOG_CALLER")
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.ClockPolicy != ClockClient && c.ClockPolicy != ClockServer {
		return fmt.Errorf("CLOCK_POLICY must be %q or %q, got %q", ClockClient, ClockServer, c.ClockPolicy)
	}
	if c.DefaultTimeControl <= 0 {
		return errors.New("DEFAULT_TIME_CONTROL must be positive")
	}
	return nil
}

func (c *AppConfig) StartDelay() time.Duration {
	return time.Duration(c.StartDelayMS) * time.Millisecond
}

func (c *AppConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSec) * time.Second
}

func (c *AppConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSec) * time.Second
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setPositiveInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
