// Package config provides configuration management for the tracker server.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Lock backends for per-(project, category) update serialization.
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Security SecurityConfig `mapstructure:"security"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Status   StatusConfig   `mapstructure:"status"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORS
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// The pool is shared by the repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory or postgres
}

// RedisConfig is used by the redis lock backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains token settings. A missing signing key is generated
// on boot, which invalidates tokens across restarts.
type SecurityConfig struct {
	JWTSigningKey       string        `mapstructure:"jwt_signing_key"`
	JWTVerificationKeys []string      `mapstructure:"jwt_verification_keys"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	JWTExpiresIn        time.Duration `mapstructure:"jwt_expires_in"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize  int `mapstructure:"general_pool_size"`
	RealtimePoolSize int `mapstructure:"realtime_pool_size"`
}

// RealtimeConfig contains websocket hub settings.
type RealtimeConfig struct {
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
}

// StatusConfig contains status update settings.
type StatusConfig struct {
	// PolicyFile optionally overrides the built-in vocabulary, category
	// permissions and fan-out rooms.
	PolicyFile  string        `mapstructure:"policy_file"`
	LockBackend string        `mapstructure:"lock_backend"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Nested keys map to env names by replacing dots: database.max_conns → DATABASE_MAX_CONNS.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/tracker")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	switch c.Store.Driver {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Driver)
	}
	switch c.Status.LockBackend {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required when status.lock_backend is %q", LockRedis)
		}
	default:
		return fmt.Errorf("status.lock_backend must be one of none, local, redis; got %q", c.Status.LockBackend)
	}
	if c.Realtime.SendQueueSize <= 0 {
		return fmt.Errorf("realtime.send_queue_size must be positive")
	}
	if c.Realtime.PongWait <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_wait must be longer than realtime.ping_interval")
	}
	return nil
}

// ensureSecrets auto-generates a missing signing key.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tracker")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tracker")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", true)

	// Store
	v.SetDefault("store.driver", StoreMemory)

	// Redis
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.jwt_verification_keys", []string{})
	v.SetDefault("security.jwt_issuer", "fabtrack")
	v.SetDefault("security.jwt_expires_in", "12h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 64)
	v.SetDefault("worker.realtime_pool_size", 2048)

	// Realtime hub
	v.SetDefault("realtime.send_queue_size", 64)
	v.SetDefault("realtime.ping_interval", "25s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("realtime.write_timeout", "10s")
	v.SetDefault("realtime.max_message_bytes", 4096)

	// Status updates
	v.SetDefault("status.policy_file", "")
	v.SetDefault("status.lock_backend", LockNone)
	v.SetDefault("status.lock_ttl", "5s")
}
