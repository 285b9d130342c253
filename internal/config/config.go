package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	SnowflakeNodeID int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit RateLimitConfig
	Reconcile ReconcileConfig

	IdempotencyPendingTTL time.Duration
}

// RateLimitConfig configures the Redis-backed limiter on mutating routes.
// Limiter state lives in Redis so replicas share one allowance; an in-process
// counter map multiplies the allowance per instance when replicated.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ActorRate  float64
	ActorBurst int
}

// ReconcileConfig configures the journal/outstanding drift scan.
type ReconcileConfig struct {
	Enabled   bool
	Interval  time.Duration
	LockTTL   time.Duration
	BatchSize int
	RedisAddr string
	RedisAuth string
	RedisDB   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:         getenv("APP_SERVICE", "creditcore"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     environment,
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		SnowflakeNodeID: getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creditcore"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			ActorRate:     getenvFloat("RATE_LIMIT_ACTOR_RATE", 50),
			ActorBurst:    getenvInt("RATE_LIMIT_ACTOR_BURST", 100),
		},
		Reconcile: ReconcileConfig{
			Enabled:   getenvBool("RECONCILE_ENABLED", true),
			Interval:  getenvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			LockTTL:   getenvDuration("RECONCILE_LOCK_TTL", 4*time.Minute),
			BatchSize: getenvInt("RECONCILE_BATCH_SIZE", 500),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			RedisAuth: getenv("REDIS_PASSWORD", ""),
			RedisDB:   getenvInt("REDIS_DB", 0),
		},

		IdempotencyPendingTTL: getenvDuration("IDEMPOTENCY_PENDING_TTL", 30*time.Second),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
