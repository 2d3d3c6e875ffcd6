// Package config loads process configuration from the environment. Engine
// parameters travel as an explicit backtest.Config value instead; nothing in
// the engine reads ambient state.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir      string // Directory for the results database and return data
	ReturnsFile  string // CSV of periodic asset returns
	DatabaseFile string
	LogLevel     string
	Port         int
	DevMode      bool

	// Scheduler settings for the data refresh job.
	RefreshEnabled  bool
	RefreshSchedule string // cron expression

	// Engine defaults, overridable per request or per CLI flag.
	RiskFreeRate           float64
	PeriodsPerYear         float64
	EstimationWindowMonths int
	LowerBound             float64
	UpperBound             float64
	SignificanceLevel      float64
	Workers                int
}

// Load reads configuration from environment variables, consulting a .env
// file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "")
	if dataDir == "" {
		if _, err := os.Stat("./data"); err == nil {
			dataDir = "./data"
		} else {
			dataDir = "../data"
		}
	}

	cfg := &Config{
		DataDir:      dataDir,
		ReturnsFile:  getEnv("RETURNS_FILE", dataDir+"/returns.csv"),
		DatabaseFile: getEnv("DATABASE_FILE", dataDir+"/results.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("PORT", 8001),
		DevMode:      getEnvAsBool("DEV_MODE", false),

		RefreshEnabled:  getEnvAsBool("REFRESH_ENABLED", true),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "*/10 * * * *"),

		RiskFreeRate:           getEnvAsFloat("RISK_FREE_RATE", 0.0),
		PeriodsPerYear:         getEnvAsFloat("PERIODS_PER_YEAR", 12),
		EstimationWindowMonths: getEnvAsInt("ESTIMATION_WINDOW_MONTHS", 36),
		LowerBound:             getEnvAsFloat("WEIGHT_LOWER_BOUND", 0),
		UpperBound:             getEnvAsFloat("WEIGHT_UPPER_BOUND", 1),
		SignificanceLevel:      getEnvAsFloat("SIGNIFICANCE_LEVEL", 0.05),
		Workers:                getEnvAsInt("WORKERS", 4),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can drive a process.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods per year must be positive, got %v", c.PeriodsPerYear)
	}
	if c.LowerBound < 0 || c.UpperBound > 1 || c.LowerBound > c.UpperBound {
		return fmt.Errorf("invalid weight bounds [%v, %v]", c.LowerBound, c.UpperBound)
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		return fmt.Errorf("significance level must be in (0, 1), got %v", c.SignificanceLevel)
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
