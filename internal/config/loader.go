package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/perfmerge/internal/safe"
)

const (
	// DefaultDir is the perfmerge directory under the base directory.
	DefaultDir = ".perfmerge"
	// ConfigFile is the config file name.
	ConfigFile = "config.yaml"
	// StoreFile is the default artifact database file name.
	StoreFile = "artifacts.duckdb"
)

// Loader handles loading and saving configuration files.
type Loader struct {
	homeDir string
}

// NewLoader creates a new config loader.
// The base directory is resolved in this order:
//  1. PERFMERGE_CONFIG environment variable.
//  2. User home directory (~/).
//  3. The system temporary directory, for environments without a home dir.
func NewLoader() *Loader {
	if baseDir := os.Getenv("PERFMERGE_CONFIG"); baseDir != "" {
		return &Loader{homeDir: baseDir}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		return &Loader{homeDir: homeDir}
	}

	return &Loader{homeDir: filepath.Join(os.TempDir(), "perfmerge-fallback")}
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.homeDir, DefaultDir, ConfigFile)
}

// StorePath returns the artifact database path for cfg.
func (l *Loader) StorePath(cfg *Config) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return filepath.Join(l.homeDir, DefaultDir, StoreFile)
}

// Load loads the configuration file, or the defaults when it does not exist,
// then applies environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	path := l.ConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return finish(Default())
	}
	return LoadFile(path)
}

// LoadFile loads a configuration file at an explicit path. Fields missing
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := safe.ReadFile(path, &safe.ReadOptions{MaxSize: 1 << 20})
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := MergeFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration file.
func (l *Loader) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	path := l.ConfigPath()
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := safe.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
