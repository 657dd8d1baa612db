package config

import (
	"os"
	"path/filepath"
)

// OverseerPath returns the root directory for Overseer data.
// It uses $OVERSEER_PATH if set, otherwise defaults to ~/.overseer.
func OverseerPath() string {
	if v := os.Getenv("OVERSEER_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".overseer")
	}
	return filepath.Join(home, ".overseer")
}

// ConfigPath returns the path to the Overseer config file.
func ConfigPath() string {
	return filepath.Join(OverseerPath(), "config.jsonc")
}

// DotenvPath returns the path to the Overseer .env file.
func DotenvPath() string {
	return filepath.Join(OverseerPath(), ".env")
}

// TasksPath returns the path to the persisted background task metadata.
func TasksPath() string {
	return filepath.Join(OverseerPath(), "tasks.json")
}
