// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases and the spool (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	GeminiAPIKey    string
	GeminiModel     string
	AILookupTimeout time.Duration

	OpenFIGIEnabled bool
	OpenFIGIAPIKey  string

	BatchDelay   time.Duration
	BatchWorkers int

	AutoInsertDefault    bool
	AllowPortfolioCreate bool
	DefaultCurrency      string
	DefaultPortfolio     string
	DuplicateWindowHours float64
	DuplicateGate        domain.DuplicateGate

	ReviewRetentionDays int
	SpoolEnabled        bool

	R2                  R2Config
	BackupRetentionDays int
}

// R2Config holds Cloudflare R2 backup credentials
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string // overrides the account endpoint, for S3-compatible stores
}

// Enabled reports whether all credentials needed for backups are present
func (r R2Config) Enabled() bool {
	if r.AccessKeyID == "" || r.SecretAccessKey == "" || r.Bucket == "" {
		return false
	}
	return r.AccountID != "" || r.Endpoint != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("INBOX_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("INBOX_PORT", 8010),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		AILookupTimeout:      time.Duration(getEnvAsInt("AI_LOOKUP_TIMEOUT_SECONDS", 30)) * time.Second,
		OpenFIGIEnabled:      getEnvAsBool("OPENFIGI_ENABLED", false),
		OpenFIGIAPIKey:       getEnv("OPENFIGI_API_KEY", ""),
		BatchDelay:           time.Duration(getEnvAsInt("BATCH_DELAY_MS", 100)) * time.Millisecond,
		BatchWorkers:         getEnvAsInt("BATCH_WORKERS", 1),
		AutoInsertDefault:    getEnvAsBool("AUTO_INSERT_DEFAULT", false),
		AllowPortfolioCreate: getEnvAsBool("ALLOW_PORTFOLIO_CREATE", true),
		DefaultCurrency:      strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
		DefaultPortfolio:     getEnv("DEFAULT_PORTFOLIO", "Default"),
		DuplicateWindowHours: getEnvAsFloat("DUPLICATE_WINDOW_HOURS", 24),
		DuplicateGate:        domain.DuplicateGate(strings.ToLower(getEnv("DUPLICATE_GATE", string(domain.DuplicateGateAdvisory)))),
		ReviewRetentionDays:  getEnvAsInt("REVIEW_RETENTION_DAYS", 90),
		SpoolEnabled:         getEnvAsBool("SPOOL_ENABLED", true),
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
		},
		BackupRetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if money.GetCurrency(c.DefaultCurrency) == nil {
		return fmt.Errorf("unknown default currency: %q", c.DefaultCurrency)
	}
	if !c.DuplicateGate.Valid() {
		return fmt.Errorf("invalid duplicate gate %q (expected advisory, review or strict)", c.DuplicateGate)
	}
	if c.DuplicateWindowHours <= 0 {
		return fmt.Errorf("duplicate window must be positive, got %v", c.DuplicateWindowHours)
	}
	if c.BatchWorkers < 1 {
		c.BatchWorkers = 1
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.ReviewRetentionDays < 1 {
		return fmt.Errorf("review retention must be at least one day, got %d", c.ReviewRetentionDays)
	}
	return nil
}

// SourceDefaults returns the per-source configuration applied when a source
// has no stored overrides.
func (c *Config) SourceDefaults() domain.SourceConfig {
	return domain.SourceConfig{
		AutoInsertEnabled:        c.AutoInsertDefault,
		DuplicateTimeWindowHours: c.DuplicateWindowHours,
		Thresholds:               domain.DefaultThresholds(),
		DuplicateGate:            c.DuplicateGate,
		AllowPortfolioCreate:     c.AllowPortfolioCreate,
		DefaultCurrency:          c.DefaultCurrency,
		DefaultPortfolio:         c.DefaultPortfolio,
	}
}

// SpoolDir is where incoming .eml files are picked up
func (c *Config) SpoolDir() string {
	return filepath.Join(c.DataDir, "spool")
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
