// Package helpers holds utilities shared by the CLI commands: configuration
// and logger setup, the artifact store, and output formatting.
package helpers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/perfmerge/internal/config"
	"github.com/coral-mesh/perfmerge/internal/export/flamechart"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/session"
	"github.com/coral-mesh/perfmerge/internal/store"
	"github.com/coral-mesh/perfmerge/pkg/version"
)

// GlobalFlags are the persistent flags of the root command.
type GlobalFlags struct {
	ConfigFile string
	LogLevel   string
}

// AddGlobalFlags registers the global flags on fs.
func AddGlobalFlags(fs *pflag.FlagSet, flags *GlobalFlags) {
	fs.StringVar(&flags.ConfigFile, "config", "", "Config file (default: ~/.perfmerge/config.yaml)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

// Env is the resolved environment of one command invocation.
type Env struct {
	Config *config.Config
	Logger zerolog.Logger
	loader *config.Loader
}

// LoadEnv loads the configuration (an explicit file, or the default location)
// and builds the logger. Logs always go to stderr so stdout stays free for
// artifacts.
func LoadEnv(flags GlobalFlags) (*Env, error) {
	loader := config.NewLoader()

	var (
		cfg *config.Config
		err error
	)
	if flags.ConfigFile != "" {
		cfg, err = config.LoadFile(flags.ConfigFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if flags.LogLevel != "" {
		cfg.Logging.Level = flags.LogLevel
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	}).With().Str("version", version.Version).Logger()

	return &Env{Config: cfg, Logger: logger, loader: loader}, nil
}

// SessionConfig derives a session configuration. Non-empty name and mainID
// override the configured values.
func (e *Env) SessionConfig(name, mainID string) session.Config {
	cfg := session.Config{
		Name:             e.Config.Session.Name,
		MainContextID:    e.Config.Session.MainContextID,
		RetrievalTimeout: e.Config.Session.RetrievalTimeout,
		FlameChart: flamechart.Config{
			MainTrackName:         e.Config.FlameChart.MainTrackName,
			WorkerTrackPrefix:     e.Config.FlameChart.WorkerTrackPrefix,
			NominalSampleDuration: e.Config.FlameChart.NominalSampleDurationUs,
			Exporter:              version.Exporter(),
		},
	}
	if name != "" {
		cfg.Name = name
	}
	if mainID != "" {
		cfg.MainContextID = mainID
	}
	return cfg
}

// StorePath returns the artifact database path.
func (e *Env) StorePath() string {
	return e.loader.StorePath(e.Config)
}

// OpenStore opens the artifact history database, creating its directory.
func (e *Env) OpenStore() (*store.Store, error) {
	path := e.StorePath()
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return store.Open(path, e.Logger)
}

// WriteOutput writes data to path, or to stdout when path is empty or "-".
func WriteOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := safe.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
