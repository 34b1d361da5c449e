package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the binaries need from the environment.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	PGDSN string

	AuthSecret string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	RateLimitPerSecond int
	RateLimitBurst     int
}

// Load reads configuration from the environment. In dev a .env file is
// loaded first so local runs need no exported variables.
func Load() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	cfg := Config{
		HTTPAddr:           getEnv("FINPULSE_HTTP_ADDR", ":8080"),
		GRPCAddr:           getEnv("FINPULSE_GRPC_ADDR", ":9090"),
		PGDSN:              getEnv("FINPULSE_PG_DSN", ""),
		AuthSecret:         getEnv("FINPULSE_AUTH_SECRET", ""),
		Issuer:             getEnv("FINPULSE_ISSUER", "finpulse"),
		AccessTTL:          getEnvDuration("FINPULSE_ACCESS_TTL", time.Hour),
		RefreshTTL:         getEnvDuration("FINPULSE_REFRESH_TTL", 14*24*time.Hour),
		RateLimitPerSecond: getEnvInt("FINPULSE_RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("FINPULSE_RATE_LIMIT_BURST", 40),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AuthSecret == "" {
		return errors.New("FINPULSE_AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("access ttl must be positive, got %s", c.AccessTTL)
	}
	if c.RefreshTTL <= 0 {
		return fmt.Errorf("refresh ttl must be positive, got %s", c.RefreshTTL)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("refresh ttl must exceed access ttl")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
