package logging

import (
	"os"
	"strings"
)

// Environment names recognized in configuration.
const (
	EnvDevelopment = "dev"
	EnvProduction  = "prod"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration from environment
// variables, falling back to environment-specific defaults.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("GEOSYNC_LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("GEOSYNC_LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("GEOSYNC_ENV"); env != "" {
		config.Environment = strings.ToLower(env)
	}

	switch config.Environment {
	case EnvDevelopment:
		config.Format = "text"
		if config.Level == DefaultConfig.Level {
			config.Level = "debug"
		}
		config.AddSource = true
	case EnvTest:
		config.Format = "text"
		config.AddSource = false
	}

	return config
}
