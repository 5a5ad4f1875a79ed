// Package config handles application configuration.
package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Secrets
	AppSecret     string
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption of webhook credentials

	// CORS
	CORSOrigins []string

	// Inbound ingestion
	IngestMaxBodyBytes   int64 // Max accepted request body size for webhook ingestion
	DefaultRateLimit     int   // Per-webhook requests/minute when a definition does not set one
	ManagementRateLimit  int   // Requests/minute per client IP on the management API

	// Object Storage (S3-compatible) for log archival and the IP denylist
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for S3-compatible providers
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string
	StorageRegion    string
	DenylistBucket   string // Optional separate bucket for the IP denylist (defaults to StorageBucket)
	DenylistKey      string // Object key of the denylist file

	// Log retention
	CleanupEnabled  bool          // Enable automatic webhook log cleanup
	LogRetention    time.Duration // How long to keep webhook logs (default 30 days)
	CleanupInterval time.Duration // How often to run cleanup (default 24 hours)

	// Outbound dispatch
	DispatchTimeout     time.Duration // Per-request timeout for outbound deliveries
	DispatchMaxAttempts int           // Delivery attempts before giving up

	// Test harness
	HarnessPollInterval   time.Duration // Listen-mode log poll cadence
	HarnessRequestTimeout time.Duration // Execute-mode request timeout

	// Idle shutdown for scale-to-zero hosts (0 disables)
	IdleShutdownTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:hookbridge.db?_journal=WAL&_timeout=5000"),
		AppSecret:   getEnv("APP_SECRET", ""),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		IngestMaxBodyBytes:  int64(getEnvInt("INGEST_MAX_BODY_BYTES", 1<<20)),
		DefaultRateLimit:    getEnvInt("DEFAULT_RATE_LIMIT", 60),
		ManagementRateLimit: getEnvInt("MANAGEMENT_RATE_LIMIT", 300),

		// Object storage uses the standard AWS env vars so S3-compatible
		// providers (Tigris, MinIO, R2) work unchanged.
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		DenylistKey:      getEnv("DENYLIST_KEY", "denylist.txt"),
	}

	// Enable storage if bucket is configured
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	// Denylist bucket defaults to main storage bucket
	cfg.DenylistBucket = getEnv("DENYLIST_BUCKET", cfg.StorageBucket)

	// Log retention configuration
	cfg.CleanupEnabled = getEnvBool("CLEANUP_ENABLED", true)
	cfg.LogRetention = getEnvDuration("LOG_RETENTION", 30*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)

	// Outbound dispatch configuration
	cfg.DispatchTimeout = getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second)
	cfg.DispatchMaxAttempts = getEnvInt("DISPATCH_MAX_ATTEMPTS", 3)

	// Test harness configuration
	cfg.HarnessPollInterval = getEnvDuration("HARNESS_POLL_INTERVAL", 3*time.Second)
	cfg.HarnessRequestTimeout = getEnvDuration("HARNESS_REQUEST_TIMEOUT", 30*time.Second)

	// Idle shutdown (scale-to-zero hosts)
	cfg.IdleShutdownTimeout = getEnvDuration("IDLE_SHUTDOWN_TIMEOUT", 0)

	// Generate a random app secret if not provided so single-node dev
	// setups work out of the box. Stored credentials will not survive a
	// restart without a stable APP_SECRET.
	if cfg.AppSecret == "" {
		cfg.AppSecret = generateRandomSecret(64)
	}

	// Set up encryption key (derive from app secret if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.AppSecret)
	}

	return cfg, nil
}

// ArchiveEnabled returns true when expired logs should be exported to
// object storage before deletion.
func (c *Config) ArchiveEnabled() bool {
	return c.StorageEnabled
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback (should never happen)
		return "dev-secret-change-me-" + base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%d", time.Now().UnixNano())))
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using HKDF.
// HKDF (HMAC-based Key Derivation Function) is appropriate for deriving keys from
// high-entropy secrets. For low-entropy passwords, use Argon2 instead.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("hookbridge-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// This should never happen with valid inputs
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
