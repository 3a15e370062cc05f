package config

import (
	"os"
	"path/filepath"

	"audiotext/internal/domain"
)

// AppDirName is the per-user directory holding settings and models.
const AppDirName = ".audiotext"

// DefaultSettingsPath returns the settings file location under homeDir.
func DefaultSettingsPath(homeDir string) string {
	return filepath.Join(homeDir, AppDirName, "settings.json")
}

// DefaultSettings returns baseline local configuration for first launch.
// An empty OutputDir saves transcripts next to their source media.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		ModelPath: filepath.Join(homeDir, AppDirName, "models"),
		Language:  "auto",
	}
}
