// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Metadata store ("postgres" or "memory", default: "postgres")
	MetadataBackend string
	DatabaseURL     string
	MigrationsDir   string

	// Storage
	StorageRoot   string
	MaxUploadSize int64

	// Download cache
	CacheMaxBytes int64
	CacheTTLSec   int

	// Chunked uploads
	ChunkTempDir    string
	UploadExpirySec int

	// Auth
	JWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:     envOr("METRICS_ADDR", ":9090"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "json"),
		MetadataBackend: envOr("METADATA_BACKEND", "postgres"),
		DatabaseURL:     envOr("DATABASE_URL", ""),
		MigrationsDir:   envOr("MIGRATIONS_DIR", "migrations"),
		StorageRoot:     envOr("STORAGE_ROOT", "/data/storage"),
		MaxUploadSize:   envInt64("MAX_UPLOAD_SIZE", 100*1024*1024), // 100MB default
		CacheMaxBytes:   envInt64("CACHE_MAX_BYTES", 256*1024*1024),
		CacheTTLSec:     envInt("CACHE_TTL_SECONDS", 300),
		ChunkTempDir:    envOr("CHUNK_TEMP_DIR", ""),
		UploadExpirySec: envInt("UPLOAD_EXPIRY_SECONDS", 24*3600),
		JWTSecret:       envOr("JWT_SECRET", ""),
	}

	if cfg.MetadataBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
