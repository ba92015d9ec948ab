// Package config loads server configuration from an optional file,
// JOBWORK_-prefixed environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryDatabase as database.path keeps vouchers and payments in process
// memory.
const MemoryDatabase = ":memory:"

// Numbering backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Numbering NumberingConfig
	Redis     RedisConfig
	Audit     AuditConfig
	HTTP      HTTPConfig
}

type AppConfig struct {
	Port string
	Env  string
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

type DatabaseConfig struct {
	Path string // sqlite file, or MemoryDatabase
}

type NumberingConfig struct {
	Backend string
	Prefix  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuditConfig struct {
	Enabled  bool
	Interval time.Duration
	Repair   bool
}

type HTTPConfig struct {
	RateLimit      float64 // requests per second, 0 disables
	RateBurst      int
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// IsProduction reports whether app.env is "production".
func (c *Config) IsProduction() bool { return c.App.Env == "production" }

// InMemoryStorage reports whether vouchers and payments live in memory.
func (c *Config) InMemoryStorage() bool { return c.Database.Path == MemoryDatabase }

// Load reads configuration.
// Priority (highest to lowest):
// 1. Environment variables with JOBWORK_ prefix (e.g., JOBWORK_DATABASE_PATH)
// 2. The file at path, if path is not empty
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("JOBWORK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Port: v.GetString("app.port"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Numbering: NumberingConfig{
			Backend: strings.ToLower(v.GetString("numbering.backend")),
			Prefix:  v.GetString("numbering.prefix"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Audit: AuditConfig{
			Enabled:  v.GetBool("audit.enabled"),
			Interval: v.GetDuration("audit.interval"),
			Repair:   v.GetBool("audit.repair"),
		},
		HTTP: HTTPConfig{
			RateLimit:      v.GetFloat64("http.rate_limit"),
			RateBurst:      v.GetInt("http.rate_burst"),
			AllowedOrigins: splitList(v.GetString("http.allowed_origins")),
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.path", "./data/jobwork.db")
	v.SetDefault("numbering.backend", BackendSQLite)
	v.SetDefault("numbering.prefix", "JW")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", "1h")
	v.SetDefault("audit.repair", true)
	v.SetDefault("http.rate_limit", 50)
	v.SetDefault("http.rate_burst", 100)
	v.SetDefault("http.allowed_origins", "*")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "15s")
}

// splitList accepts "a,b" from env vars and files alike.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Numbering.Backend {
	case BackendSQLite, BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("numbering.backend must be one of sqlite, redis, memory; got %q", c.Numbering.Backend)
	}
	if c.Numbering.Backend == BackendRedis && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when numbering.backend is redis")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Numbering.Backend == BackendSQLite && c.InMemoryStorage() {
		return errors.New("numbering.backend sqlite needs a database file; use memory or redis numbering with in-memory storage")
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		return fmt.Errorf("audit.interval must be positive, got %s", c.Audit.Interval)
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("http.rate_limit cannot be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		return errors.New("http.rate_burst must be positive when rate limiting is enabled")
	}

	if c.IsProduction() {
		if c.InMemoryStorage() {
			return errors.New("in-memory storage cannot be used in production")
		}
		if c.Numbering.Backend == BackendMemory {
			return errors.New("in-memory numbering cannot be used in production")
		}
		for _, origin := range c.HTTP.AllowedOrigins {
			if origin == "*" {
				return errors.New("http.allowed_origins cannot be '*' in production (use specific origins)")
			}
		}
	}
	return nil
}
