package config

import (
	"os"
	"path/filepath"
	"time"

	"exocal-client/internal/domain"
)

const (
	DefaultServiceBase  = "https://server.exocal.earth"
	DefaultPollInterval = 200 * time.Millisecond
)

// DefaultSettings returns baseline configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ServiceBase:    DefaultServiceBase,
		OutputDir:      filepath.Join(homeDir, "Downloads", "exocal"),
		LimitTargets:   domain.DefaultLimitTargets,
		Seed:           domain.DefaultSeed,
		PollInterval:   DefaultPollInterval,
		RequestTimeout: 60 * time.Second,
		LogLevel:       "info",
	}
}

// DefaultPath is where the settings file lives unless overridden.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".exocal", "settings.yaml")
}
