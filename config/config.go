package config

import (
	"os"
	"time"
)

// Config holds the application configuration
type Config struct {
	// AWS
	AWSRegion string
	RoleARN   string

	// History database, optional
	DatabaseURL string

	// Status server, optional
	StatusAddr string

	// Polling
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		RoleARN:        getEnv("SAGEMAKER_ROLE_ARN", ""),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StatusAddr:     getEnv("STATUS_ADDR", ""),
		PollInterval:   getEnvDuration("POLL_INTERVAL", 30*time.Second),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
