package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Pipeline timing
	PollInterval       time.Duration // spacing between provider poll ticks
	VideoPollCeiling   int           // max video poll ticks before a job fails
	CompilePollCeiling int           // max compile poll ticks before a job fails
	RetryBudget        int           // retries per shot operation
	CallTimeout        time.Duration // per external provider call
	LeaseTTL           time.Duration // job write lease duration

	// Scheduler
	SchedulerTick        time.Duration // pump resolution
	SchedulerConcurrency int           // concurrent job wake-ups
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),

		PollInterval:       getEnvDuration("POLL_INTERVAL", 30*time.Second),
		VideoPollCeiling:   getEnvInt("VIDEO_POLL_CEILING", 40),
		CompilePollCeiling: getEnvInt("COMPILE_POLL_CEILING", 60),
		RetryBudget:        getEnvInt("RETRY_BUDGET", 5),
		CallTimeout:        getEnvDuration("PROVIDER_CALL_TIMEOUT", 2*time.Minute),
		LeaseTTL:           getEnvDuration("JOB_LEASE_TTL", 5*time.Minute),

		SchedulerTick:        getEnvDuration("SCHEDULER_TICK", time.Second),
		SchedulerConcurrency: getEnvInt("SCHEDULER_CONCURRENCY", 5),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
