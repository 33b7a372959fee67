package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Deployment modes select the queue engine and object-storage backend.
const (
	ModeCloud    = "cloud"
	ModeSelfHost = "selfhost"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (cloud queue engine)
	Redis RedisConfig

	// S3-compatible object storage (cloud deployments)
	S3 S3Config

	// Import pipeline configuration
	Import ImportConfig

	// DeploymentMode is "cloud" or "selfhost"
	DeploymentMode string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// RedisConfig holds connection settings for the Redis-backed queue engine
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// S3Config holds settings for the remote import-file store
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ImportConfig holds import pipeline settings
type ImportConfig struct {
	ChunkSize     int
	MaxUploadSize int64 // in bytes
	UploadDir     string
	PollInterval  time.Duration
	Workers       int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 300*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Name:         getEnv("DB_NAME", "analytics"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 5),
			MaxLifetime:  getDurationEnv("DB_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "imports"),
			Region:    getEnv("S3_REGION", "auto"),
			UseSSL:    getBoolEnv("S3_USE_SSL", true),
		},
		Import: ImportConfig{
			ChunkSize:     getIntEnv("IMPORT_CHUNK_SIZE", 5000),
			MaxUploadSize: getInt64Env("MAX_UPLOAD_SIZE", 500*1024*1024), // 500MB
			UploadDir:     getEnv("UPLOAD_DIR", "/tmp/imports"),
			PollInterval:  getDurationEnv("QUEUE_POLL_INTERVAL", 2*time.Second),
			Workers:       getIntEnv("IMPORT_WORKERS", 1),
		},
		DeploymentMode: getEnv("DEPLOYMENT_MODE", ModeSelfHost),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.DeploymentMode != ModeCloud && c.DeploymentMode != ModeSelfHost {
		return fmt.Errorf("DEPLOYMENT_MODE must be %q or %q", ModeCloud, ModeSelfHost)
	}
	if c.DeploymentMode == ModeCloud && c.S3.Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required in cloud mode")
	}
	if c.Import.ChunkSize <= 0 {
		return fmt.Errorf("IMPORT_CHUNK_SIZE must be positive")
	}
	return nil
}

// IsCloud reports whether the process runs in the multi-node cloud deployment.
func (c *Config) IsCloud() bool {
	return c.DeploymentMode == ModeCloud
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
