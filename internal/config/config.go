package config

import (
	"os"
	"strconv"
	"time"
)

// Selection policy names accepted by SELECTION_POLICY.
const (
	PolicyBestCTR = "best_ctr"
	PolicyRandom  = "random"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	OpsAddr     string
	PostgresDSN string
	RedisAddr   string
	// ClickHouseDSN is only used when AnalyticsEnabled is set.
	ClickHouseDSN    string
	AnalyticsEnabled bool
	// Worker pool shared by every targeting evaluation in the process
	WorkerPoolSize      int
	WorkerQueueSize     int
	PoolShutdownTimeout time.Duration
	// Selection behaviour
	SelectionPolicy      string
	SelectionSeed        int64
	SelectionParallelism int
	// Catalog maintenance
	ReloadInterval     time.Duration
	CTRSmoothingWeight float64
	CTRDefault         float64
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.ServiceName = getenv("SERVICE_NAME", "adselection")
	cfg.Environment = getenv("ENV", "production")
	cfg.OpsAddr = getenv("OPS_ADDR", "")
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000/default?async_insert=1&wait_for_async_insert=1")
	cfg.AnalyticsEnabled = envBool("ANALYTICS_ENABLED", false)

	cfg.WorkerPoolSize = envInt("WORKER_POOL_SIZE", 10)
	cfg.WorkerQueueSize = envInt("WORKER_QUEUE_SIZE", 1024)
	cfg.PoolShutdownTimeout = envDuration("POOL_SHUTDOWN_TIMEOUT", 5*time.Second)

	cfg.SelectionPolicy = getenv("SELECTION_POLICY", PolicyBestCTR)
	// zero means "seed from the clock"
	cfg.SelectionSeed = envInt64("SELECTION_SEED", 0)
	cfg.SelectionParallelism = envInt("SELECTION_PARALLELISM", 1)

	cfg.ReloadInterval = envDuration("RELOAD_INTERVAL", 30*time.Second)
	cfg.CTRSmoothingWeight = envFloat("CTR_SMOOTHING_WEIGHT", 100)
	cfg.CTRDefault = envFloat("CTR_DEFAULT", 0.01)

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
