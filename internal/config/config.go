// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables.
// Trading policy (thresholds, sizing, exit strategy) is NOT here - it lives
// in the settings database and is loaded per cycle by the settings module.
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	Port     int
	LogLevel string
	DevMode  bool

	// Market data collaborator
	MarketDataURL string

	// Cron schedules (robfig/cron with seconds field)
	RecommendationSchedule string
	MonitorSchedule        string
	BackupSchedule         string
	MaintenanceSchedule    string

	Backup *BackupConfig
}

// BackupConfig holds off-site ledger backup configuration.
// Backups are disabled unless both Endpoint and Bucket are set.
type BackupConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Keep      int // number of remote backups to retain
}

// Enabled reports whether off-site backups are configured
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("COINPILOT_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:       absDataDir,
		Port:          getEnvAsInt("COINPILOT_PORT", 8010),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		MarketDataURL: getEnv("MARKET_DATA_URL", "http://localhost:9010"),

		// Recommendations every 3 minutes, monitoring every 5, backup nightly
		RecommendationSchedule: getEnv("RECOMMENDATION_SCHEDULE", "0 */3 * * * *"),
		MonitorSchedule:        getEnv("MONITOR_SCHEDULE", "0 */5 * * * *"),
		BackupSchedule:         getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		MaintenanceSchedule:    getEnv("MAINTENANCE_SCHEDULE", "0 30 3 * * *"),

		Backup: &BackupConfig{
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
			Keep:      getEnvAsInt("BACKUP_KEEP", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MarketDataURL == "" {
		return fmt.Errorf("market data URL is required")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
