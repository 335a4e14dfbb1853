package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the service reads from the environment.
// Missing cloud values do not fail startup; the store reports not-ready
// and fetches return empty results instead.
type Config struct {
	// Map rendering (exposed to the UI via /api/config, never used server-side)
	MapboxAccessToken string

	// Cloud storage
	GCPProjectID    string
	GCSBucketName   string
	GCSRegion       string
	GCSFolderPath   string
	CredentialsFile string
	ClientEmail     string
	PrivateKey      string

	// Local store mode (directory of detection JSON/JPEG pairs).
	// When set, the GCS client is not constructed at all.
	LocalStoreDir string

	// Server
	Port string

	// Sync engine
	SyncInterval time.Duration
	SyncNoPrune  bool
	SignTTL      time.Duration

	// Alerts
	AlertWebhookURL string

	LogLevel string
}

// Load loads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		MapboxAccessToken: getEnv("MAPBOX_ACCESS_TOKEN", ""),
		GCPProjectID:      getEnv("GCP_PROJECT_ID", ""),
		GCSBucketName:     getEnv("GCS_BUCKET_NAME", ""),
		GCSRegion:         getEnv("GCS_REGION", "us-central1"),
		GCSFolderPath:     getEnv("GCS_FOLDER_PATH", DefaultFolderPath),
		CredentialsFile:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		ClientEmail:       getEnv("GCP_CLIENT_EMAIL", ""),
		PrivateKey:        getEnv("GCP_PRIVATE_KEY", ""),
		LocalStoreDir:     getEnv("LOCAL_STORE_DIR", ""),
		Port:              getEnv("PORT", "8080"),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", DefaultSyncInterval),
		SyncNoPrune:       getEnvBool("SYNC_NO_PRUNE", false),
		SignTTL:           getEnvDuration("SIGN_TTL", DefaultSignTTL),
		AlertWebhookURL:   getEnv("ALERT_WEBHOOK_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
	}
}

// CloudConfigured reports whether enough is present to talk to GCS.
func (c *Config) CloudConfigured() bool {
	return c.GCSBucketName != "" && c.GCPProjectID != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
