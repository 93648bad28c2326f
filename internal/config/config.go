package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseURL string
	ITADAPIKey  string
	Port        string
	Environment string

	// Scheduler tuning
	CheckInterval       time.Duration // due-scan period
	MaxConcurrentChecks int           // global cap on in-flight evaluations
	FetchTimeout        time.Duration // per provider call; a hang becomes Unavailable
}

func Load() *Config {
	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", "gamewatch.db"),
		ITADAPIKey:  getEnv("ITAD_API_KEY", ""),
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		CheckInterval:       getDuration("CHECK_INTERVAL", 30*time.Second),
		MaxConcurrentChecks: getInt("MAX_CONCURRENT_CHECKS", 5),
		FetchTimeout:        getDuration("FETCH_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
