// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/coral-mesh/perfmerge/internal/marker"
)

// Config is the perfmerge configuration file.
type Config struct {
	Version    string                   `yaml:"version"`
	Logging    LoggingConfig            `yaml:"logging"`
	Session    SessionConfig            `yaml:"session"`
	FlameChart FlameChartConfig         `yaml:"flame_chart"`
	Store      StoreConfig              `yaml:"store"`
	Markers    map[string]marker.Marker `yaml:"markers,omitempty" validate:"dive,keys,required,endkeys"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"PERFMERGE_LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty" env:"PERFMERGE_LOG_PRETTY"`
}

// SessionConfig configures profiling sessions.
type SessionConfig struct {
	Name             string        `yaml:"name,omitempty" env:"PERFMERGE_SESSION_NAME"`
	MainContextID    string        `yaml:"main_context_id" env:"PERFMERGE_MAIN_CONTEXT" validate:"required"`
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout" env:"PERFMERGE_RETRIEVAL_TIMEOUT" validate:"gt=0"`
}

// FlameChartConfig configures the flame-chart exporter.
type FlameChartConfig struct {
	MainTrackName     string `yaml:"main_track_name" env:"PERFMERGE_MAIN_TRACK_NAME" validate:"required"`
	WorkerTrackPrefix string `yaml:"worker_track_prefix" env:"PERFMERGE_WORKER_TRACK_PREFIX" validate:"required"`
	// NominalSampleDurationUs is the span width given to samples when a
	// worker track has to be derived from samples.
	NominalSampleDurationUs int64 `yaml:"nominal_sample_duration_us" env:"PERFMERGE_NOMINAL_SAMPLE_US" validate:"gt=0"`
}

// StoreConfig configures the artifact history database.
type StoreConfig struct {
	Enabled bool `yaml:"enabled" env:"PERFMERGE_STORE_ENABLED"`
	// Path is the DuckDB file. Empty means <base>/.perfmerge/artifacts.duckdb.
	Path string `yaml:"path,omitempty" env:"PERFMERGE_STORE_PATH"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Session: SessionConfig{
			MainContextID:    "main",
			RetrievalTimeout: 5 * time.Second,
		},
		FlameChart: FlameChartConfig{
			MainTrackName:           "Main Thread",
			WorkerTrackPrefix:       "Worker ",
			NominalSampleDurationUs: 1000,
		},
		Store: StoreConfig{
			Enabled: true,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateMarker, marker.Marker{})
	return v
}

// validateMarker rejects marker categories outside the known set.
func validateMarker(sl validator.StructLevel) {
	m := sl.Current().Interface().(marker.Marker)
	if m.Category != "" && !m.Category.Valid() {
		sl.ReportError(m.Category, "Category", "category", "markercategory", string(m.Category))
	}
}

// Validate checks the configuration and returns a readable error listing
// every invalid field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// MarkerRegistry builds a marker registry from the configured markers.
func (c *Config) MarkerRegistry() *marker.Registry {
	r := marker.NewRegistry()
	for name, m := range c.Markers {
		r.Set(name, m)
	}
	return r
}
