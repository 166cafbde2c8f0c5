package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/spec-kit/taskflow-auth/pkg/util/errorutil"
)

// Flow store backends.
const (
	FlowStoreMemory = "memory"
	FlowStoreRedis  = "redis"
)

// MinSecretBytes is the smallest HMAC-SHA256 key accepted at startup.
const MinSecretBytes = 32

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Logger    LoggerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret              string
	Issuer                 string
	AccessTokenTTLMinutes  int
	RefreshTokenTTLMinutes int
	FlowTTLSeconds         int
	FlowSweepSeconds       int
	FlowStore              string
	MaxLoginAttempts       int
	BcryptCost             int
	CookieSecure           bool
}

// RateLimitConfig throttles the unauthenticated /auth endpoints per client IP.
type RateLimitConfig struct {
	Requests  int
	WindowSec int
	Burst     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "taskflow-auth"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "taskflow:flow"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:              os.Getenv("AUTH_JWT_SECRET"),
			Issuer:                 getEnv("AUTH_JWT_ISSUER", "taskflow"),
			AccessTokenTTLMinutes:  getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 15),
			RefreshTokenTTLMinutes: getEnvAsInt("AUTH_REFRESH_TOKEN_TTL_MINUTES", 10080),
			FlowTTLSeconds:         getEnvAsInt("AUTH_FLOW_TTL_SECONDS", 300),
			FlowSweepSeconds:       getEnvAsInt("AUTH_FLOW_SWEEP_SECONDS", 60),
			FlowStore:              strings.ToLower(getEnv("AUTH_FLOW_STORE", FlowStoreMemory)),
			MaxLoginAttempts:       getEnvAsInt("AUTH_MAX_LOGIN_ATTEMPTS", 3),
			BcryptCost:             getEnvAsInt("AUTH_BCRYPT_COST", 12),
			CookieSecure:           getEnvAsBool("AUTH_COOKIE_SECURE", false),
		},
		RateLimit: RateLimitConfig{
			Requests:  getEnvAsInt("RATELIMIT_AUTH_REQUESTS", 20),
			WindowSec: getEnvAsInt("RATELIMIT_AUTH_WINDOW_SEC", 60),
			Burst:     getEnvAsInt("RATELIMIT_AUTH_BURST", 20),
		},
	}

	return cfg, nil
}

// Validate rejects configurations the service must not run with.
func (c *Config) Validate() error {
	if _, err := c.Auth.SigningKey(); err != nil {
		return err
	}
	if c.Auth.AccessTokenTTLMinutes <= 0 {
		return apperrors.NewConfigurationError("AUTH_ACCESS_TOKEN_TTL_MINUTES", "must be positive")
	}
	if c.Auth.RefreshTokenTTLMinutes <= 0 {
		return apperrors.NewConfigurationError("AUTH_REFRESH_TOKEN_TTL_MINUTES", "must be positive")
	}
	if c.Auth.FlowTTLSeconds <= 0 {
		return apperrors.NewConfigurationError("AUTH_FLOW_TTL_SECONDS", "must be positive")
	}
	if c.Auth.MaxLoginAttempts <= 0 {
		return apperrors.NewConfigurationError("AUTH_MAX_LOGIN_ATTEMPTS", "must be positive")
	}
	switch c.Auth.FlowStore {
	case FlowStoreMemory, FlowStoreRedis:
	default:
		return apperrors.NewConfigurationError("AUTH_FLOW_STORE", fmt.Sprintf("unknown backend %q", c.Auth.FlowStore))
	}
	return nil
}

// SigningKey decodes the base64 signing secret and checks it is long enough for HS256.
func (a AuthConfig) SigningKey() ([]byte, error) {
	if strings.TrimSpace(a.JWTSecret) == "" {
		return nil, apperrors.NewConfigurationError("AUTH_JWT_SECRET", "must be set")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.JWTSecret))
	if err != nil {
		return nil, apperrors.NewConfigurationError("AUTH_JWT_SECRET", "must be base64 encoded")
	}
	if len(key) < MinSecretBytes {
		return nil, apperrors.NewConfigurationError("AUTH_JWT_SECRET", fmt.Sprintf("must decode to at least %d bytes", MinSecretBytes))
	}
	return key, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func (a AuthConfig) AccessTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func (a AuthConfig) RefreshTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTLMinutes) * time.Minute
}

func (a AuthConfig) FlowTTL() time.Duration {
	return time.Duration(a.FlowTTLSeconds) * time.Second
}

func (a AuthConfig) FlowSweepInterval() time.Duration {
	if a.FlowSweepSeconds <= 0 {
		return 0
	}
	return time.Duration(a.FlowSweepSeconds) * time.Second
}

// Window returns the limiter window.
func (r RateLimitConfig) Window() time.Duration {
	if r.WindowSec <= 0 {
		return time.Minute
	}
	return time.Duration(r.WindowSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
