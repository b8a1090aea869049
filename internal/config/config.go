// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for rulesets, pending changes and scraper output (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Reasoner (external LLM gateway)
	ReasonerAPIKey  string
	ReasonerModel   string
	ReasonerBaseURL string

	// Confidence thresholds. The UI threshold flags classifications for
	// manual review; the oracle threshold gates proposal admission.
	ConfidenceThreshold float64
	OracleMinConfidence float64

	// Investor service used by the impact simulator
	InvestorAPIURL string

	// Feature flags
	OracleEnabled     bool
	SECScraperEnabled bool
	MASScraperEnabled bool

	// Cron cadence for the daily regulatory run ("0 2 * * *" by default)
	DailyCron string

	Backup *BackupConfig
}

// BackupConfig holds settings for the scheduled data-directory backup.
type BackupConfig struct {
	Enabled         bool
	Bucket          string
	Endpoint        string // S3-compatible endpoint, empty for AWS
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Cron            string
	KeepCount       int // newest archives retained during rotation
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		ReasonerAPIKey:  getEnv("REASONER_API_KEY", os.Getenv("TOGETHER_API_KEY")),
		ReasonerModel:   getEnv("REASONER_MODEL", "mistralai/Mistral-7B-Instruct-v0.2"),
		ReasonerBaseURL: getEnv("REASONER_BASE_URL", "https://api.together.xyz/v1"),

		ConfidenceThreshold: getEnvAsFloat("AI_CONFIDENCE_THRESHOLD", 0.7),
		OracleMinConfidence: getEnvAsFloat("ORACLE_MIN_CONFIDENCE", 0.75),

		InvestorAPIURL: getEnv("INVESTOR_API_URL", "http://localhost:8000"),

		OracleEnabled:     getEnvAsBool("ORACLE_ENABLED", true),
		SECScraperEnabled: getEnvAsBool("SEC_SCRAPER_ENABLED", true),
		MASScraperEnabled: getEnvAsBool("MAS_SCRAPER_ENABLED", true),

		DailyCron: getEnv("DAILY_CRON", "0 2 * * *"),

		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// The reasoner key is only required when the oracle loop is on; the
	// compliance endpoints degrade to their fallbacks without it.
	if c.OracleEnabled && c.ReasonerAPIKey == "" {
		return fmt.Errorf("REASONER_API_KEY is required when ORACLE_ENABLED=true")
	}
	if c.OracleMinConfidence < 0 || c.OracleMinConfidence > 1 {
		return fmt.Errorf("ORACLE_MIN_CONFIDENCE must be within [0,1], got %f", c.OracleMinConfidence)
	}
	return nil
}

// JurisdictionsDir is where per-jurisdiction ruleset documents live.
func (c *Config) JurisdictionsDir() string {
	return filepath.Join(c.DataDir, "jurisdictions")
}

// PendingChangesDir is where proposal envelopes are persisted.
func (c *Config) PendingChangesDir() string {
	return filepath.Join(c.DataDir, "pending_changes")
}

// UpdatesDir is the append-only scraper audit trail root.
func (c *Config) UpdatesDir() string {
	return filepath.Join(c.DataDir, "regulatory_updates")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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

// loadBackupConfig loads backup configuration; disabled unless a bucket is set.
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Bucket:          getEnv("S3_BACKUP_BUCKET", ""),
		Endpoint:        getEnv("S3_ENDPOINT", ""),
		Region:          getEnv("S3_REGION", "auto"),
		AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		Cron:            getEnv("BACKUP_CRON", "0 4 * * *"),
		KeepCount:       getEnvAsInt("BACKUP_KEEP_COUNT", 14),
	}
}
