package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPathEnv names the optional YAML file read before the environment.
const ConfigPathEnv = "AUDITCHAIN_CONFIG"

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	DatabaseDriver string `yaml:"database_driver"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	SQLitePath     string `yaml:"sqlite_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AuthMode    string `yaml:"auth_mode"`
	AdminAPIKey string `yaml:"admin_api_key"`
	PolicyPath  string `yaml:"policy_path"`
	PolicyWatch bool   `yaml:"policy_watch"`

	AppendMaxRetries     int `yaml:"append_max_retries"`
	ScopeCacheTTLSeconds int `yaml:"scope_cache_ttl_seconds"`
	StreamBuffer         int `yaml:"stream_buffer"`

	RateLimitRequests      int  `yaml:"rate_limit_requests"`
	RateLimitWindowSeconds int  `yaml:"rate_limit_window_seconds"`
	RateLimitFailClosed    bool `yaml:"rate_limit_fail_closed"`
	RateLimitMaxKeys       int  `yaml:"rate_limit_max_keys"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

func Defaults() Config {
	return Config{
		HTTPAddr:               ":8080",
		SQLitePath:             "auditchain.db",
		LogLevel:               "info",
		LogFormat:              "json",
		AppendMaxRetries:       5,
		ScopeCacheTTLSeconds:   30,
		StreamBuffer:           64,
		RateLimitWindowSeconds: 60,
		RateLimitMaxKeys:       10000,
	}
}

// Load layers defaults, then the YAML file at path (or $AUDITCHAIN_CONFIG),
// then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// FromEnv is Load without a config file.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = envDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseDriver = envDefault("DATABASE_DRIVER", cfg.DatabaseDriver)
	cfg.PostgresDSN = envDefault("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.SQLitePath = envDefault("SQLITE_PATH", cfg.SQLitePath)
	cfg.LogLevel = envDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.AuthMode = envDefault("AUTH_MODE", cfg.AuthMode)
	cfg.AdminAPIKey = envDefault("ADMIN_API_KEY", cfg.AdminAPIKey)
	cfg.PolicyPath = envDefault("POLICY_PATH", cfg.PolicyPath)
	cfg.PolicyWatch = envBoolDefault("POLICY_WATCH", cfg.PolicyWatch)
	cfg.AppendMaxRetries = envIntDefault("APPEND_MAX_RETRIES", cfg.AppendMaxRetries)
	cfg.ScopeCacheTTLSeconds = envIntDefault("SCOPE_CACHE_TTL_SECONDS", cfg.ScopeCacheTTLSeconds)
	cfg.StreamBuffer = envIntDefault("STREAM_BUFFER", cfg.StreamBuffer)
	cfg.RateLimitRequests = envIntDefault("RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	cfg.RateLimitWindowSeconds = envIntDefault("RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimitWindowSeconds)
	cfg.RateLimitFailClosed = envBoolDefault("RATE_LIMIT_FAIL_CLOSED", cfg.RateLimitFailClosed)
	cfg.RateLimitMaxKeys = envIntDefault("RATE_LIMIT_MAX_KEYS", cfg.RateLimitMaxKeys)
	cfg.RedisAddr = envDefault("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envDefault("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envIntDefault("REDIS_DB", cfg.RedisDB)
}

// ResolvedDatabaseDriver picks postgres when a DSN is configured and no
// driver was named explicitly.
func (c Config) ResolvedDatabaseDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	if driver != "" {
		return driver
	}
	if c.PostgresDSN != "" {
		return "postgres"
	}
	return "sqlite"
}

func (c Config) Validate() error {
	switch c.AuthMode {
	case "":
		return errors.New("AUTH_MODE is required")
	case "none", "header":
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	if c.PolicyWatch && c.PolicyPath == "" {
		return errors.New("POLICY_WATCH requires POLICY_PATH")
	}
	return nil
}

func (c Config) ScopeCacheTTL() time.Duration {
	if c.ScopeCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ScopeCacheTTLSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}
