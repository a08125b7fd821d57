package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	AgentPort     string
	DatabaseURL   string
	RedisURL      string
	AuthorityURL  string
	StateFile     string
	UploadTimeout time.Duration
	BackoffDelay  time.Duration
	ProbeInterval time.Duration
	CatalogTTL    time.Duration
	UserTTL       time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		AgentPort:    getEnv("AGENT_PORT", "8090"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AuthorityURL: os.Getenv("AUTHORITY_URL"),
		StateFile:    getEnv("STATE_FILE", "connectivity.json"),
	}

	var err error
	if cfg.UploadTimeout, err = getDuration("UPLOAD_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.BackoffDelay, err = getDuration("BACKOFF_DELAY", "15s"); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDuration("PROBE_INTERVAL", "10s"); err != nil {
		return nil, err
	}
	if cfg.CatalogTTL, err = getDuration("CACHE_TTL_CATALOG", "1h"); err != nil {
		return nil, err
	}
	if cfg.UserTTL, err = getDuration("CACHE_TTL_USER", "30m"); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AuthorityURL == "" {
		return nil, errors.New("AUTHORITY_URL is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	value, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return value, nil
}
