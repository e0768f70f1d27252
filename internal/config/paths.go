package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvRarscanHome overrides the data directory.
	EnvRarscanHome = "RARSCAN_HOME"
	// EnvRarscanDB overrides the journal database path.
	EnvRarscanDB = "RARSCAN_DB"
)

// DataDir returns the directory used to store rarscan data.
func DataDir() (string, error) {
	if d := os.Getenv(EnvRarscanHome); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	// Use a dot-directory in the user's home on all platforms
	return filepath.Join(home, ".rarscan"), nil
}

// EnsureDataDir returns DataDir after creating it when missing.
func EnsureDataDir() (string, error) {
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return d, nil
}

// DBPath returns the full path to the SQLite journal file.
func DBPath() (string, error) {
	if p := os.Getenv(EnvRarscanDB); p != "" {
		return p, nil
	}
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "rarscan.db"), nil
}

// SettingsPath returns the default location of the YAML settings file.
func SettingsPath() (string, error) {
	d, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config.yaml"), nil
}
