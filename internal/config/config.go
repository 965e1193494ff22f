package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Logger     LoggerConfig
	MySQL      MySQLConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Queue      QueueConfig
	Reconciler ReconcilerConfig
}

type ServerConfig struct {
	AppEnv          string
	HTTPPort        string
	GRPCPort        string
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type CacheConfig struct {
	ProductsTTL time.Duration
}

type QueueConfig struct {
	Name         string
	Concurrency  int
	MaxAttempts  int
	BackoffBase  time.Duration
	JobTimeout   time.Duration
	PollInterval time.Duration
	StalledAfter time.Duration
	KeepFailed   int
}

type ReconcilerConfig struct {
	Enabled    bool
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			AppEnv:          getEnv("APP_ENV", "production"),
			HTTPPort:        normalizePort(getEnv("HTTP_PORT", ":8080")),
			GRPCPort:        normalizePort(getEnv("GRPC_PORT", ":50051")),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		MySQL: MySQLConfig{
			DSN:             getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/pos?parseTime=true"),
			MaxOpenConns:    getEnvInt("MYSQL_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("MYSQL_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvDuration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 100),
		},
		Cache: CacheConfig{
			ProductsTTL: getEnvDuration("CACHE_PRODUCTS_TTL", time.Hour),
		},
		Queue: QueueConfig{
			Name:         getEnv("QUEUE_NAME", "sales-queue"),
			Concurrency:  getEnvInt("QUEUE_CONCURRENCY", 5),
			MaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:  getEnvDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			JobTimeout:   getEnvDuration("QUEUE_JOB_TIMEOUT", 30*time.Second),
			PollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 200*time.Millisecond),
			StalledAfter: getEnvDuration("QUEUE_STALLED_AFTER", time.Minute),
			KeepFailed:   getEnvInt("QUEUE_KEEP_FAILED", 50),
		},
		Reconciler: ReconcilerConfig{
			Enabled:    getEnvBool("RECONCILER_ENABLED", true),
			Schedule:   getEnv("RECONCILER_SCHEDULE", "@every 1m"),
			StaleAfter: getEnvDuration("RECONCILER_STALE_AFTER", 10*time.Minute),
			BatchSize:  getEnvInt("RECONCILER_BATCH_SIZE", 100),
		},
	}

	if cfg.IsDevelopment() {
		if _, ok := os.LookupEnv("LOGGER_LEVEL"); !ok {
			cfg.Logger.Level = "debug"
		}
		if _, ok := os.LookupEnv("LOGGER_ENCODING"); !ok {
			cfg.Logger.Encoding = "console"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.AppEnv == "development"
}

func (c *Config) Validate() error {
	var errs []error
	if c.MySQL.DSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN must not be empty"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR must not be empty"))
	}
	if c.Cache.ProductsTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_PRODUCTS_TTL must be positive, got %s", c.Cache.ProductsTTL))
	}
	if c.Queue.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_CONCURRENCY must be positive, got %d", c.Queue.Concurrency))
	}
	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive, got %d", c.Queue.MaxAttempts))
	}
	if c.Queue.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_JOB_TIMEOUT must be positive, got %s", c.Queue.JobTimeout))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_POLL_INTERVAL must be positive, got %s", c.Queue.PollInterval))
	}
	if c.Queue.StalledAfter <= c.Queue.JobTimeout {
		errs = append(errs, errors.New("QUEUE_STALLED_AFTER must exceed QUEUE_JOB_TIMEOUT"))
	}
	if c.Reconciler.Enabled && c.Reconciler.StaleAfter <= c.Queue.JobTimeout {
		errs = append(errs, errors.New("RECONCILER_STALE_AFTER must exceed QUEUE_JOB_TIMEOUT"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(value); err == nil {
		return time.Duration(sec) * time.Second
	}
	return fallback
}

func normalizePort(port string) string {
	if !strings.HasPrefix(port, ":") && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
