package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/codetesla51/kvshape/algorithms"
	"github.com/codetesla51/kvshape/store"
)

type Config struct {
	Env        string `mapstructure:"KVSHAPE_ENV"`
	HTTPAddr   string `mapstructure:"KVSHAPE_HTTP_ADDR"`
	Backend    string `mapstructure:"KVSHAPE_BACKEND"`
	DefaultTTL uint64 `mapstructure:"KVSHAPE_DEFAULT_TTL"` // seconds, 0 for none

	Memory   MemoryConfig   `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Bolt     BoltConfig     `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type MemoryConfig struct {
	Shards  int   `mapstructure:"KVSHAPE_MEMORY_SHARDS"`
	Offload bool  `mapstructure:"KVSHAPE_MEMORY_OFFLOAD"`
	Workers int64 `mapstructure:"KVSHAPE_MEMORY_WORKERS"`
}

type RedisConfig struct {
	Host     string `mapstructure:"KVSHAPE_REDIS_HOST"`
	Port     int    `mapstructure:"KVSHAPE_REDIS_PORT"`
	Username string `mapstructure:"KVSHAPE_REDIS_USERNAME"`
	Password string `mapstructure:"KVSHAPE_REDIS_PASSWORD"`
	DB       int    `mapstructure:"KVSHAPE_REDIS_DB"`
	Prefix   string `mapstructure:"KVSHAPE_REDIS_PREFIX"`
}

type DBConfig struct {
	PostgresDSN string `mapstructure:"KVSHAPE_POSTGRES_DSN"`
}

type BoltConfig struct {
	Path string `mapstructure:"KVSHAPE_BOLT_PATH"`
}

type SecurityConfig struct {
	CORSAllowedOrigins []string `mapstructure:"KVSHAPE_CORS_ALLOWED_ORIGINS"`
	// RateLimit is requests per RateLimitWindow per client IP; 0 disables.
	RateLimit          int           `mapstructure:"KVSHAPE_RATE_LIMIT"`
	RateLimitWindow    time.Duration `mapstructure:"KVSHAPE_RATE_LIMIT_WINDOW"`
	RateLimitAlgorithm string        `mapstructure:"KVSHAPE_RATE_LIMIT_ALGORITHM"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // variables already set take precedence
		}
	}
}

// Load reads configuration from the environment, .env files and the optional
// file named by KVSHAPE_CONFIG_FILE, then validates it.
func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("KVSHAPE_ENV", "dev")
	v.SetDefault("KVSHAPE_HTTP_ADDR", ":8080")
	v.SetDefault("KVSHAPE_BACKEND", string(store.BackendMemory))
	v.SetDefault("KVSHAPE_DEFAULT_TTL", 0)
	v.SetDefault("KVSHAPE_MEMORY_SHARDS", 64)
	v.SetDefault("KVSHAPE_MEMORY_OFFLOAD", false)
	v.SetDefault("KVSHAPE_MEMORY_WORKERS", 0)
	v.SetDefault("KVSHAPE_REDIS_HOST", "127.0.0.1")
	v.SetDefault("KVSHAPE_REDIS_PORT", 6379)
	v.SetDefault("KVSHAPE_REDIS_USERNAME", "")
	v.SetDefault("KVSHAPE_REDIS_PASSWORD", "")
	v.SetDefault("KVSHAPE_REDIS_DB", 0)
	v.SetDefault("KVSHAPE_REDIS_PREFIX", "")
	v.SetDefault("KVSHAPE_POSTGRES_DSN", "")
	v.SetDefault("KVSHAPE_BOLT_PATH", "kvshape.db")
	v.SetDefault("KVSHAPE_CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("KVSHAPE_RATE_LIMIT", 0)
	v.SetDefault("KVSHAPE_RATE_LIMIT_WINDOW", "1m")
	v.SetDefault("KVSHAPE_RATE_LIMIT_ALGORITHM", algorithms.AlgorithmFixedWindow)

	if file := os.Getenv("KVSHAPE_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// Handle array parsing for comma-separated values
	if origins := v.GetString("KVSHAPE_CORS_ALLOWED_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		v.Set("KVSHAPE_CORS_ALLOWED_ORIGINS", parts)
	} else {
		v.Set("KVSHAPE_CORS_ALLOWED_ORIGINS", []string{})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case "dev", "prod":
	default:
		return fmt.Errorf("KVSHAPE_ENV must be dev or prod, got %q", c.Env)
	}

	switch store.Backend(c.Backend) {
	case store.BackendMemory, store.BackendBolt:
	case store.BackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("KVSHAPE_REDIS_HOST is required for the redis backend")
		}
	case store.BackendPostgres:
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("KVSHAPE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q (supported: %s, %s, %s, %s)", c.Backend,
			store.BackendMemory, store.BackendRedis, store.BackendPostgres, store.BackendBolt)
	}

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("KVSHAPE_REDIS_PORT out of range: %d", c.Redis.Port)
	}
	if c.Memory.Shards < 0 || c.Memory.Workers < 0 {
		return fmt.Errorf("memory shards and workers must not be negative")
	}
	if c.Security.RateLimit < 0 {
		return fmt.Errorf("KVSHAPE_RATE_LIMIT must not be negative")
	}
	if c.Security.RateLimit > 0 && c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("KVSHAPE_RATE_LIMIT_WINDOW must be positive")
	}
	switch c.Security.RateLimitAlgorithm {
	case "", algorithms.AlgorithmFixedWindow, algorithms.AlgorithmSlidingWindow,
		algorithms.AlgorithmSlidingWindowCounter, algorithms.AlgorithmTokenBucket,
		algorithms.AlgorithmLeakyBucket:
	default:
		return fmt.Errorf("unsupported KVSHAPE_RATE_LIMIT_ALGORITHM %q", c.Security.RateLimitAlgorithm)
	}
	return nil
}

func (c *Config) defaultTTL() store.TTL {
	if c.DefaultTTL == 0 {
		return store.NoTTL
	}
	return store.Seconds(c.DefaultTTL)
}

// StoreOptions converts the configuration into backend options.
func (c *Config) StoreOptions(logger *zap.Logger) store.Options {
	ttl := c.defaultTTL()
	return store.Options{
		Backend: store.Backend(c.Backend),
		Memory: store.MemoryConfig{
			Shards:     c.Memory.Shards,
			Offload:    c.Memory.Offload,
			Workers:    c.Memory.Workers,
			DefaultTTL: ttl,
			Logger:     logger,
		},
		Redis: store.RedisConfig{
			Host:       c.Redis.Host,
			Port:       uint16(c.Redis.Port),
			Username:   c.Redis.Username,
			Password:   c.Redis.Password,
			DB:         c.Redis.DB,
			KeyPrefix:  c.Redis.Prefix,
			DefaultTTL: ttl,
			Logger:     logger,
		},
		Database: store.DatabaseConfig{
			DSN:        c.Database.PostgresDSN,
			DefaultTTL: ttl,
			Logger:     logger,
		},
		Bolt: store.BoltConfig{
			Path:       c.Bolt.Path,
			DefaultTTL: ttl,
			Logger:     logger,
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}
