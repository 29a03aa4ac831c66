// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir   string // Base directory for the scenario and run databases
	LogLevel  string
	LogPretty bool
	Port      int

	// Simulation defaults, overridable per run request.
	Trials  int
	Seed    uint64
	Workers int
}

// Load reads configuration from environment variables, with a .env file as
// fallback.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("HORIZON_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Port:      getEnvAsInt("HORIZON_PORT", 8001),
		Trials:    getEnvAsInt("HORIZON_TRIALS", 1000),
		Seed:      uint64(getEnvAsInt("HORIZON_SEED", 1)),
		Workers:   getEnvAsInt("HORIZON_WORKERS", 0), // 0 = GOMAXPROCS
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Trials)
	}
	return nil
}

// ScenariosDBPath returns the scenario store location.
func (c *Config) ScenariosDBPath() string {
	return filepath.Join(c.DataDir, "scenarios.db")
}

// RunsDBPath returns the run archive location.
func (c *Config) RunsDBPath() string {
	return filepath.Join(c.DataDir, "runs.db")
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
