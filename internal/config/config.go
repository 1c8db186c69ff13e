// Package config loads Papeterie settings: built-in defaults, then an
// optional YAML file, then PAPETERIE_* environment variables. Command-line
// flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage backends for persisted UI state.
const (
	StorageSQLite = "sqlite"
	StorageFile   = "file"
	StorageMemory = "memory"
)

type Config struct {
	BackendURL string `yaml:"backend_url" env:"PAPETERIE_BACKEND_URL"`
	// RequestTimeout bounds each backend request. Zero leaves requests unbounded.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PAPETERIE_REQUEST_TIMEOUT"`

	StorageBackend string `yaml:"storage_backend" env:"PAPETERIE_STORAGE"`
	StoragePath    string `yaml:"storage_path" env:"PAPETERIE_STORAGE_PATH"`

	MaxHistory       int           `yaml:"max_history" env:"PAPETERIE_MAX_HISTORY"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"PAPETERIE_POLL_INTERVAL"`
	DirectVisibility bool          `yaml:"direct_visibility" env:"PAPETERIE_DIRECT_VISIBILITY"`

	SnapshotDir string `yaml:"snapshot_dir" env:"PAPETERIE_SNAPSHOT_DIR"`
	LogFile     string `yaml:"log_file" env:"PAPETERIE_LOG_FILE"`
	Verbose     bool   `yaml:"verbose" env:"PAPETERIE_VERBOSE"`

	BuildVersion string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BackendURL:     "http://localhost:8000",
		StorageBackend: StorageSQLite,
		StoragePath:    "papeterie-state.db",
		MaxHistory:     50,
		PollInterval:   time.Second,
		SnapshotDir:    "snapshots",
		LogFile:        "papeterie.log",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("backend_url is required"))
	}
	switch c.StorageBackend {
	case StorageSQLite, StorageFile:
		if c.StoragePath == "" {
			errs = append(errs, fmt.Errorf("storage_path is required for %s storage", c.StorageBackend))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage_backend %q", c.StorageBackend))
	}
	if c.MaxHistory < 0 {
		errs = append(errs, fmt.Errorf("max_history must not be negative, got %d", c.MaxHistory))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request_timeout must not be negative, got %s", c.RequestTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
