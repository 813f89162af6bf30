// Package bundle reads capture bundles: telemetry collected from a set of
// execution contexts and saved to disk, replayed through a session to
// produce artifacts offline.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/perfmerge/internal/marker"
	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/sampler"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// DefaultMainContextID is used when a bundle does not name its main context.
const DefaultMainContextID = "main"

// Bundle is a capture of one profiling run.
type Bundle struct {
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	StartTime     float64 `json:"startTime" yaml:"startTime"`
	EndTime       float64 `json:"endTime" yaml:"endTime" validate:"gtefield=StartTime"`
	MainContextID string  `json:"mainContextId,omitempty" yaml:"mainContextId,omitempty"`
	// Trace is the main context's sampled trace, inline.
	Trace *telemetry.SampledTrace `json:"trace,omitempty" yaml:"trace,omitempty"`
	// Pprof points at a pprof CPU profile standing in for Trace. Relative
	// paths resolve against the bundle's directory.
	Pprof    string                   `json:"pprof,omitempty" yaml:"pprof,omitempty" validate:"excluded_with=Trace"`
	Markers  map[string]marker.Marker `json:"markers,omitempty" yaml:"markers,omitempty" validate:"dive,keys,required,endkeys"`
	Contexts []Context                `json:"contexts" yaml:"contexts" validate:"unique=ID,dive"`

	dir string
}

// Context holds the instrumentation records of one context.
type Context struct {
	ID      string             `json:"id" yaml:"id" validate:"required"`
	Records []telemetry.Record `json:"records" yaml:"records"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a bundle. Files ending in .yaml or .yml are decoded as YAML,
// anything else as JSON.
func Load(path string) (*Bundle, error) {
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var b Bundle
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &b)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&b)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse bundle %s: %w", path, err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.dir = filepath.Dir(path)
	return &b, nil
}

// Validate checks the bundle structure.
func (b *Bundle) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid bundle: %w", err)
	}
	return nil
}

// MainID returns the main context id.
func (b *Bundle) MainID() string {
	if b.MainContextID == "" {
		return DefaultMainContextID
	}
	return b.MainContextID
}

// ApplyMarkers registers the bundle's markers in r.
func (b *Bundle) ApplyMarkers(r *marker.Registry) {
	for name, m := range b.Markers {
		r.Set(name, m)
	}
}

// LoadTrace returns the main context's sampled trace: the inline trace, or
// the referenced pprof profile converted with samples starting at StartTime.
// A bundle with neither has no trace.
func (b *Bundle) LoadTrace() (*telemetry.SampledTrace, error) {
	if b.Trace != nil || b.Pprof == "" {
		return b.Trace, nil
	}

	path := b.Pprof
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, path)
	}
	data, err := safe.ReadFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read pprof profile: %w", err)
	}
	trace, err := sampler.ParsePprof(bytes.NewReader(data), b.StartTime)
	if err != nil {
		return nil, err
	}
	return trace, nil
}

// RecordCount returns the number of records across contexts.
func (b *Bundle) RecordCount() int {
	n := 0
	for _, c := range b.Contexts {
		n += len(c.Records)
	}
	return n
}
