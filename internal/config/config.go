package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"ecosim/internal/errors"
)

// Config represents the complete engine configuration
type Config struct {
	Paths      PathConfig
	Training   TrainingConfig
	Simulation SimulationConfig
	LogLevel   string
}

// PathConfig holds file system locations of model inputs and artifacts
type PathConfig struct {
	ModelDir      string
	TrainingTable string
	Catalogue     string
	Sheet         string
}

// TrainingConfig holds offline parameter-fitting settings
type TrainingConfig struct {
	EquivalentSampleSize float64
}

// SimulationConfig holds runtime simulation settings
type SimulationConfig struct {
	Baseline     float64
	ClampMin     float64
	ClampMax     float64
	Concurrency  int
	QueryTimeout time.Duration // zero disables the per-query timeout
	Elimination  string        // min-degree | min-fill | min-weight
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Paths:      loadPathConfig(),
		Training:   loadTrainingConfig(),
		Simulation: loadSimulationConfig(),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Paths: PathConfig{ModelDir: "./models", Sheet: "Sheet1"},
		Training: TrainingConfig{
			EquivalentSampleSize: 10,
		},
		Simulation: SimulationConfig{
			Baseline:    50,
			ClampMin:    0,
			ClampMax:    100,
			Concurrency: runtime.NumCPU(),
			Elimination: "min-degree",
		},
		LogLevel: "INFO",
	}
}

func loadPathConfig() PathConfig {
	return PathConfig{
		ModelDir:      getEnvOrDefault("ECOSIM_MODEL_DIR", "./models"),
		TrainingTable: getEnvOrDefault("ECOSIM_TRAINING_TABLE", ""),
		Catalogue:     getEnvOrDefault("ECOSIM_CATALOGUE", ""),
		Sheet:         getEnvOrDefault("ECOSIM_SHEET", "Sheet1"),
	}
}

func loadTrainingConfig() TrainingConfig {
	return TrainingConfig{
		EquivalentSampleSize: getEnvFloatOrDefault("ECOSIM_EQUIVALENT_SAMPLE_SIZE", 10),
	}
}

func loadSimulationConfig() SimulationConfig {
	return SimulationConfig{
		Baseline:     getEnvFloatOrDefault("ECOSIM_BASELINE", 50),
		ClampMin:     getEnvFloatOrDefault("ECOSIM_CLAMP_MIN", 0),
		ClampMax:     getEnvFloatOrDefault("ECOSIM_CLAMP_MAX", 100),
		Concurrency:  getEnvIntOrDefault("ECOSIM_CONCURRENCY", runtime.NumCPU()),
		QueryTimeout: getEnvDurationOrDefault("ECOSIM_QUERY_TIMEOUT", 0),
		Elimination:  getEnvOrDefault("ECOSIM_ELIMINATION", "min-degree"),
	}
}

// Validate checks ranges and enumerations
func Validate(config *Config) error {
	if config.Paths.ModelDir == "" {
		return errors.ConfigInvalid("model directory is required")
	}
	if config.Training.EquivalentSampleSize <= 0 {
		return errors.ConfigInvalid("equivalent sample size must be positive")
	}
	if config.Simulation.ClampMin >= config.Simulation.ClampMax {
		return errors.ConfigInvalid("clamp minimum must be below clamp maximum")
	}
	if config.Simulation.Baseline < config.Simulation.ClampMin || config.Simulation.Baseline > config.Simulation.ClampMax {
		return errors.ConfigInvalid("baseline must lie within the clamp range")
	}
	if config.Simulation.Concurrency < 1 {
		return errors.ConfigInvalid("concurrency must be at least 1")
	}
	if config.Simulation.QueryTimeout < 0 {
		return errors.ConfigInvalid("query timeout cannot be negative")
	}
	switch config.Simulation.Elimination {
	case "min-degree", "min-fill", "min-weight":
	default:
		return errors.ConfigInvalid("unknown elimination heuristic " + strconv.Quote(config.Simulation.Elimination))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
