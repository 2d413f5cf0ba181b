// Package config loads pk configuration from defaults, .placekeep/config.yaml,
// and PLACEKEEP_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DataDirName is the per-project data directory pk looks for.
const DataDirName = ".placekeep"

// Config holds all pk settings.
type Config struct {
	// RemoteURL is the sync target. Empty means offline-only; a path or
	// file:// URL selects the JSONL export remote.
	RemoteURL string `mapstructure:"remote_url"`

	// DashboardPort is the port `pk serve` listens on.
	DashboardPort int `mapstructure:"dashboard_port"`

	// Categories is the allowed curation category set. Empty disables
	// category validation.
	Categories []string `mapstructure:"categories"`

	// DedupNameThreshold is the minimum name similarity for a fuzzy
	// duplicate match (0..1).
	DedupNameThreshold float64 `mapstructure:"dedup_name_threshold"`

	// DedupMaxDistanceMeters is the maximum distance for a fuzzy
	// duplicate match.
	DedupMaxDistanceMeters float64 `mapstructure:"dedup_max_distance_meters"`

	// InboxDebounce is how long a dropped inbox file must settle before import.
	InboxDebounce time.Duration `mapstructure:"inbox_debounce"`

	// DrainInterval is how often `pk serve` drains the sync queue.
	DrainInterval time.Duration `mapstructure:"drain_interval"`
}

// Load reads configuration for the data directory at dataDir. A missing
// config.yaml is not an error; defaults and environment apply either way.
func Load(dataDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("remote_url", "")
	v.SetDefault("dashboard_port", 7317)
	v.SetDefault("categories", []string{})
	v.SetDefault("dedup_name_threshold", 0.8)
	v.SetDefault("dedup_max_distance_meters", 100.0)
	v.SetDefault("inbox_debounce", 500*time.Millisecond)
	v.SetDefault("drain_interval", 30*time.Second)

	v.SetEnvPrefix("PLACEKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if dataDir != "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.DedupNameThreshold < 0 || cfg.DedupNameThreshold > 1 {
		return nil, fmt.Errorf("dedup_name_threshold must be between 0 and 1, got %g", cfg.DedupNameThreshold)
	}
	if cfg.DedupMaxDistanceMeters < 0 {
		return nil, fmt.Errorf("dedup_max_distance_meters must not be negative, got %g", cfg.DedupMaxDistanceMeters)
	}

	return &cfg, nil
}

// FindDataDir walks up from the current directory looking for .placekeep.
// Returns empty string if none is found.
func FindDataDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return FindDataDirFrom(cwd)
}

// FindDataDirFrom walks up from path looking for a .placekeep directory.
func FindDataDirFrom(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	current := absPath
	for {
		dataDir := filepath.Join(current, DataDirName)
		if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
			return dataDir
		}

		parent := filepath.Dir(current)
		if parent == current {
			// Reached filesystem root
			return ""
		}
		current = parent
	}
}

// DatabasePath returns the SQLite file path inside dataDir.
func DatabasePath(dataDir string) string {
	return filepath.Join(dataDir, "placekeep.db")
}

// InboxPath returns the inbox directory inside dataDir.
func InboxPath(dataDir string) string {
	return filepath.Join(dataDir, "inbox")
}

// LogPath returns the rotating log file path inside dataDir.
func LogPath(dataDir string) string {
	return filepath.Join(dataDir, "placekeep.log")
}
