package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gravfit/domain/trial"
	"gravfit/internal/curvefit"
	"gravfit/internal/errors"
)

// Config represents the complete analysis configuration
type Config struct {
	Paths    PathConfig
	Analysis AnalysisConfig
	Fit      FitConfig
	Output   OutputConfig
	Store    StoreConfig
	Cleaning CleaningConfig
	LogLevel string
}

// PathConfig holds file system locations
type PathConfig struct {
	DataDirCleaned string
	ResultsDir     string
}

// AnalysisConfig names the variables and models the pipeline runs over
type AnalysisConfig struct {
	XVar           string
	GroupVars      []string
	DepVars        []string
	CurveFunctions []string
	Subjects       trial.SubjectFilter
}

// FitConfig holds optimizer settings
type FitConfig struct {
	Method  string
	MaxIter int
	Workers int
}

// OutputConfig holds export settings
type OutputConfig struct {
	Compression   string
	ChartsEnabled bool
	ReportEnabled bool
}

// StoreConfig selects the optional results database. An empty driver disables it.
type StoreConfig struct {
	Driver string
	DSN    string
}

// CleaningConfig controls the optional raw-data cleaning step
type CleaningConfig struct {
	Enabled    bool
	RawDataDir string
	VarsToKeep string
	OutputDir  string
}

// Compression names accepted by OUTPUT_COMPRESSION
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Paths:    loadPathConfig(),
		Analysis: loadAnalysisConfig(),
		Store:    loadStoreConfig(),
		Output:   loadOutputConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	fitConfig, err := loadFitConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fit configuration")
	}
	config.Fit = *fitConfig

	config.Cleaning = loadCleaningConfig(config.Paths.DataDirCleaned)

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadPathConfig() PathConfig {
	return PathConfig{
		DataDirCleaned: strings.TrimSpace(os.Getenv("DATA_DIR_CLEANED")),
		ResultsDir:     getEnvOrDefault("RESULTS_DIR", "results"),
	}
}

func loadAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		XVar:           strings.TrimSpace(os.Getenv("X_VAR")),
		GroupVars:      getEnvListOrDefault("GROUP_VARS", []string{trial.ColGravity, trial.ColPosture}),
		DepVars:        getEnvListOrDefault("DEP_VARS", nil),
		CurveFunctions: getEnvListOrDefault("CURVE_FUNCTIONS", []string{"linear", "quadratic", "cubic", "quartic"}),
		Subjects:       trial.ParseSubjectFilter(os.Getenv("SUBJ_TO_KEEP")),
	}
}

func loadFitConfig() (*FitConfig, error) {
	defaults := curvefit.DefaultSettings()

	maxIter, err := getEnvInt("FIT_MAX_ITER", defaults.MaxIter)
	if err != nil {
		return nil, err
	}
	workers, err := getEnvInt("FIT_WORKERS", defaults.Workers)
	if err != nil {
		return nil, err
	}
	return &FitConfig{
		Method:  curvefit.ParseMethod(os.Getenv("FIT_METHOD")),
		MaxIter: maxIter,
		Workers: workers,
	}, nil
}

func loadOutputConfig() OutputConfig {
	return OutputConfig{
		Compression:   strings.ToLower(getEnvOrDefault("OUTPUT_COMPRESSION", CompressionNone)),
		ChartsEnabled: getEnvBoolOrDefault("CHARTS_ENABLED", true),
		ReportEnabled: getEnvBoolOrDefault("REPORT_ENABLED", true),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Driver: strings.ToLower(strings.TrimSpace(os.Getenv("RESULTS_DB_DRIVER"))),
		DSN:    strings.TrimSpace(os.Getenv("RESULTS_DB_DSN")),
	}
}

func loadCleaningConfig(cleanedDir string) CleaningConfig {
	return CleaningConfig{
		Enabled:    getEnvBoolOrDefault("RUN_DATA_CLEANING", false),
		RawDataDir: getEnvOrDefault("RAW_DATA_DIR", "data/processed"),
		VarsToKeep: getEnvOrDefault("VARS_TO_KEEP", "vars_to_keep.csv"),
		OutputDir:  getEnvOrDefault("CLEANING_OUTPUT_DIR", cleanedDir),
	}
}

func validateConfig(config *Config) error {
	if config.Paths.DataDirCleaned == "" {
		return errors.ConfigInvalid("DATA_DIR_CLEANED is required")
	}
	if config.Analysis.XVar == "" {
		return errors.ConfigInvalid("X_VAR is required")
	}
	if len(config.Analysis.DepVars) == 0 {
		return errors.ConfigInvalid("DEP_VARS must name at least one dependent variable")
	}
	if len(config.Analysis.CurveFunctions) == 0 {
		return errors.ConfigInvalid("CURVE_FUNCTIONS must name at least one model")
	}
	if err := config.FitSettings().Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	switch config.Output.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return errors.ConfigInvalid(fmt.Sprintf("OUTPUT_COMPRESSION must be none, gzip or zstd, got %q", config.Output.Compression))
	}
	switch config.Store.Driver {
	case "":
	case "sqlite", "postgres":
		if config.Store.DSN == "" {
			return errors.ConfigInvalid("RESULTS_DB_DSN is required when RESULTS_DB_DRIVER is set")
		}
	default:
		return errors.ConfigInvalid(fmt.Sprintf("RESULTS_DB_DRIVER must be sqlite or postgres, got %q", config.Store.Driver))
	}
	return nil
}

// FitSettings converts the fit section into optimizer settings
func (c *Config) FitSettings() curvefit.Settings {
	s := curvefit.DefaultSettings()
	s.Method = c.Fit.Method
	s.MaxIter = c.Fit.MaxIter
	s.Workers = c.Fit.Workers
	return s
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt is strict: a set but malformed value is a configuration error
func getEnvInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	return intValue, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
