// Package export holds the input shared by the exporters that need more than
// a merged profile: per-context profiles plus, where available, raw records.
package export

import (
	"sort"

	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Context is the data of one execution context offered to an exporter.
type Context struct {
	ID   string
	Main bool
	// Profile may be nil or empty.
	Profile *profile.Profile
	// Records are the raw records of the context. Exporters that need span
	// durations prefer them over Profile.
	Records []telemetry.Record
}

// Input is everything an exporter needs for one artifact.
type Input struct {
	Name string
	// GlobalStart and GlobalEnd are millisecond timestamps bounding the run.
	GlobalStart float64
	GlobalEnd   float64
	Contexts    []Context
}

// HasData reports whether any context carries samples or records.
func (in Input) HasData() bool {
	for _, c := range in.Contexts {
		if len(c.Records) > 0 || !c.Profile.Empty() {
			return true
		}
	}
	return false
}

// SortContexts orders contexts with the main context first and workers by id,
// so the same input always yields the same track order.
func SortContexts(contexts []Context) {
	sort.SliceStable(contexts, func(i, j int) bool {
		if contexts[i].Main != contexts[j].Main {
			return contexts[i].Main
		}
		return contexts[i].ID < contexts[j].ID
	})
}
