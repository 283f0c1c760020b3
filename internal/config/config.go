// Package config provides configuration management for the entity store server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Cache drivers
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds all configuration for the entity store server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Postgres    PostgresConfig    `mapstructure:"postgres" yaml:"postgres"`
	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	SchemaFile  string            `mapstructure:"schema_file" yaml:"schema_file"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// StoreConfig selects and configures the key/value store.
type StoreConfig struct {
	Driver      string          `mapstructure:"driver" yaml:"driver"`
	DataDir     string          `mapstructure:"data_dir" yaml:"data_dir"`
	LockTimeout time.Duration   `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	CommitLog   CommitLogConfig `mapstructure:"commit_log" yaml:"commit_log"`
}

// CommitLogConfig holds memstore commit log configuration. The log is
// disabled when the store has no data dir.
type CommitLogConfig struct {
	SegmentSize      int64         `mapstructure:"segment_size" yaml:"segment_size"`
	SyncWrites       bool          `mapstructure:"sync_writes" yaml:"sync_writes"`
	RotationInterval time.Duration `mapstructure:"rotation_interval" yaml:"rotation_interval"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	MaxConns int    `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns int    `mapstructure:"min_conns" yaml:"min_conns"`
}

// CacheConfig holds query result cache configuration.
type CacheConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries      int           `mapstructure:"max_entries" yaml:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	MaxRetries   int    `mapstructure:"max_retries" yaml:"max_retries"`
	PoolSize     int    `mapstructure:"pool_size" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns" yaml:"min_idle_conns"`
	KeyPrefix    string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size" yaml:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port" yaml:"port"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/entitydb/")
	}

	v.SetEnvPrefix("ENTITYDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing config file is fine, defaults and env still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_bytes", 4<<20)

	// Store defaults
	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.data_dir", "")
	v.SetDefault("store.lock_timeout", "5s")
	v.SetDefault("store.commit_log.segment_size", 64<<20)
	v.SetDefault("store.commit_log.sync_writes", true)
	v.SetDefault("store.commit_log.rotation_interval", "1h")

	// Postgres defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "entitydb")
	v.SetDefault("postgres.user", "entitydb")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.max_conns", 20)
	v.SetDefault("postgres.min_conns", 2)

	// Cache defaults
	v.SetDefault("cache.driver", CacheMemory)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.cleanup_interval", "1m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.key_prefix", "entitydb:")

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 1000.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("schema_file", "")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case StoreMemory:
		if c.Store.DataDir != "" && c.Store.CommitLog.SegmentSize <= 0 {
			return fmt.Errorf("commit log segment size must be positive")
		}
	case StorePostgres:
		if c.Postgres.Host == "" || c.Postgres.Database == "" {
			return fmt.Errorf("postgres host and database are required")
		}
		if c.Postgres.MaxConns <= 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
			return fmt.Errorf("invalid postgres pool size: min %d, max %d", c.Postgres.MinConns, c.Postgres.MaxConns)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Store.LockTimeout <= 0 {
		return fmt.Errorf("store lock timeout must be positive")
	}

	switch c.Cache.Driver {
	case CacheNone:
	case CacheMemory:
		if c.Cache.MaxEntries <= 0 {
			return fmt.Errorf("cache max entries must be positive")
		}
	case CacheRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown cache driver: %q", c.Cache.Driver)
	}

	if c.Cache.Driver != CacheNone && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port %d collides with server port", c.Metrics.Port)
		}
	}

	return nil
}

// Dump renders the effective configuration as YAML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	out := *c
	if out.Postgres.Password != "" {
		out.Postgres.Password = "****"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "****"
	}
	return yaml.Marshal(&out)
}
