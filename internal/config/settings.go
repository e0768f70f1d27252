// Package config resolves rarscan's data paths and loads its YAML settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Settings holds defaults for the scan command. Command-line flags win over
// anything set here.
type Settings struct {
	LogLevel        string `yaml:"log_level"`
	DryRun          bool   `yaml:"dry_run"`
	RemoveAfterDays uint64 `yaml:"remove_after_days"`
	Password        string `yaml:"password"`
	KeepGoing       bool   `yaml:"keep_going"`
	Journal         *bool  `yaml:"journal"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() Settings {
	return Settings{LogLevel: "info"}
}

// JournalEnabled reports whether scans should be written to the journal.
// The journal is on unless the file turns it off explicitly.
func (s Settings) JournalEnabled() bool {
	return s.Journal == nil || *s.Journal
}

// RemoveAfter converts RemoveAfterDays to a duration. Zero disables removal.
func (s Settings) RemoveAfter() time.Duration {
	return time.Duration(s.RemoveAfterDays) * 24 * time.Hour
}

// LoadSettings reads settings from path. When explicit is false a missing
// file yields the defaults; when true it is an error.
func LoadSettings(path string, explicit bool) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return s, nil
}
