package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// Config holds the per-run configuration for the reporting job. It is
// threaded explicitly through each stage; nothing reads it as global
// state.
type Config struct {
	AppEnv       string
	DBDriver     string
	SourceDBPath string
	ReportDBPath string
	RedisAddr    string

	MonthFrom  int
	MonthTo    int
	Timezone   string
	BaseDomain string

	MergePolicy      string
	MaxViolationRate float64
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	return &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		DBDriver:         getEnv("DB_DRIVER", "sqlite3"),
		SourceDBPath:     getEnv("SOURCE_DB_PATH", "./data/incidents.db"),
		ReportDBPath:     getEnv("REPORT_DB_PATH", "./data/reports.db"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		MonthFrom:        getEnvInt("REPORT_MONTH_FROM", 1),
		MonthTo:          getEnvInt("REPORT_MONTH_TO", 12),
		Timezone:         getEnv("REPORT_TIMEZONE", "America/New_York"),
		BaseDomain:       getEnv("REPORT_BASE_DOMAIN", "https://domain.com"),
		MergePolicy:      getEnv("USER_MERGE_POLICY", "caller_wins"),
		MaxViolationRate: getEnvFloat("MAX_VIOLATION_RATE", 0.1),
	}
}

// Validate rejects configuration the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.MonthFrom < 1 || c.MonthFrom > 12 || c.MonthTo < 1 || c.MonthTo > 12 {
		return fmt.Errorf("month range must be within 1..12, got %d..%d", c.MonthFrom, c.MonthTo)
	}
	if c.MonthFrom > c.MonthTo {
		return fmt.Errorf("month range start %d is after end %d", c.MonthFrom, c.MonthTo)
	}
	if c.MaxViolationRate < 0 || c.MaxViolationRate > 1 {
		return fmt.Errorf("max violation rate must be within 0..1, got %g", c.MaxViolationRate)
	}
	if c.BaseDomain == "" {
		return fmt.Errorf("base domain must not be empty")
	}
	return nil
}

// NewLogger creates a new Zap logger based on the config.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg.AppEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	f, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return f
}
