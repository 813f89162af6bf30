// Package pprofexport writes collected telemetry as a pprof profile so it can
// be inspected with go tool pprof.
package pprofexport

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/pprof/profile"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/perfmerge/internal/export"
	"github.com/coral-mesh/perfmerge/internal/frame"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/marker"
	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Sample label keys.
const (
	LabelContext        = "context"
	LabelMarkerCategory = "marker.category"
)

// Sample value indexes.
const (
	valueSamples = iota
	valueWall
	valueAlloc
)

// Exporter converts collected telemetry to pprof.
type Exporter struct {
	markers *marker.Registry
	logger  zerolog.Logger
}

// NewExporter creates a pprof exporter. markers may be nil.
func NewExporter(markers *marker.Registry, logger zerolog.Logger) *Exporter {
	return &Exporter{
		markers: markers,
		logger:  logging.WithComponent(logger, "pprof_exporter"),
	}
}

// Export builds a pprof profile with samples/count, wall/microseconds and
// alloc/bytes values. Contexts with records contribute one sample per record
// with its call stack; contexts with only a profile contribute one sample per
// profile sample, weighted by the time to the next sample.
func (e *Exporter) Export(in export.Input) (*profile.Profile, error) {
	b := newBuilder()
	b.p.TimeNanos = millisToNanos(in.GlobalStart)
	if in.GlobalEnd > in.GlobalStart {
		b.p.DurationNanos = millisToNanos(in.GlobalEnd) - b.p.TimeNanos
	}

	skipped := 0
	for _, c := range in.Contexts {
		if len(c.Records) > 0 {
			skipped += e.addRecords(b, c)
			continue
		}
		if !c.Profile.Empty() {
			e.addProfile(b, c)
		}
	}

	if err := b.p.CheckValid(); err != nil {
		return nil, fmt.Errorf("failed to build pprof profile: %w", err)
	}

	e.logger.Debug().
		Int("samples", len(b.p.Sample)).
		Int("functions", len(b.p.Function)).
		Int("skipped_records", skipped).
		Msg("Exported pprof profile")

	return b.p, nil
}

// Write exports and serializes the profile in gzip-compressed protobuf form.
func (e *Exporter) Write(w io.Writer, in export.Input) error {
	p, err := e.Export(in)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write pprof profile: %w", err)
	}
	return nil
}

func (e *Exporter) addRecords(b *builder, c export.Context) int {
	skipped := 0
	for _, r := range c.Records {
		if r.FunctionName == "" || r.EndTime < r.StartTime {
			skipped++
			continue
		}

		ref := r.MarkerRef
		if ref == "" {
			ref = r.FunctionName
		}
		m, _ := e.markers.Lookup(ref)

		// The call stack is outermost first; pprof wants the leaf first.
		stack := r.CallStack
		if n := len(stack); n > 0 && stack[n-1] == r.FunctionName {
			stack = stack[:n-1]
		}
		locs := make([]*profile.Location, 0, len(stack)+1)
		locs = append(locs, b.location(frame.NewKey(c.ID, r.FunctionName, frame.Location{})))
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] == "" {
				continue
			}
			locs = append(locs, b.location(frame.NewKey(c.ID, stack[i], frame.Location{})))
		}

		values := make([]int64, 3)
		values[valueSamples] = 1
		values[valueWall] = durationMicros(r)
		if delta, ok := r.MemoryDelta(); ok && delta > 0 {
			values[valueAlloc] = delta
		}
		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Location: locs,
			Value:    values,
			Label:    labels(c.ID, m),
		})
	}
	return skipped
}

func (e *Exporter) addProfile(b *builder, c export.Context) {
	p := c.Profile
	for i, nodeID := range p.Samples {
		n, ok := p.Node(nodeID)
		if !ok {
			continue
		}

		var wall int64 = 1
		if i+1 < len(p.TimeDeltas) {
			if d := p.TimeDeltas[i+1] - p.TimeDeltas[i]; d > 0 {
				wall = d
			}
		}

		b.p.Sample = append(b.p.Sample, &profile.Sample{
			Location: []*profile.Location{b.location(n.Key)},
			Value:    []int64{1, wall, 0},
			Label:    labels(n.Key.ContextID, n.Marker),
		})
	}
}

func labels(contextID string, m *marker.Marker) map[string][]string {
	l := map[string][]string{LabelContext: {contextID}}
	if m != nil {
		l[LabelMarkerCategory] = []string{string(m.Category)}
	}
	return l
}

func durationMicros(r telemetry.Record) int64 {
	d := telemetry.DeltaMicros(r.EndTime, r.StartTime)
	if d < 1 {
		return 1
	}
	return d
}

func millisToNanos(ms float64) int64 {
	return int64(math.Round(ms * float64(time.Millisecond)))
}

type functionKey struct {
	contextID, name, file string
}

type builder struct {
	p         *profile.Profile
	functions map[functionKey]*profile.Function
	locations map[frame.Key]*profile.Location
}

func newBuilder() *builder {
	return &builder{
		p: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: "wall", Unit: "microseconds"},
				{Type: "alloc", Unit: "bytes"},
			},
			DefaultSampleType: "wall",
			PeriodType:        &profile.ValueType{Type: "wall", Unit: "microseconds"},
			Period:            1,
		},
		functions: make(map[functionKey]*profile.Function),
		locations: make(map[frame.Key]*profile.Location),
	}
}

// location returns the location of a frame key, creating it and its function
// on first use. IDs are dense and start at 1.
func (b *builder) location(k frame.Key) *profile.Location {
	if loc, ok := b.locations[k]; ok {
		return loc
	}

	fk := functionKey{contextID: k.ContextID, name: k.FunctionName, file: k.File}
	fn, ok := b.functions[fk]
	if !ok {
		id, _ := safe.IntToUint64(len(b.p.Function) + 1)
		fn = &profile.Function{
			ID:         id,
			Name:       k.FunctionName,
			SystemName: k.ContextID + ":" + k.FunctionName,
			Filename:   k.File,
		}
		b.functions[fk] = fn
		b.p.Function = append(b.p.Function, fn)
	}

	id, _ := safe.IntToUint64(len(b.p.Location) + 1)
	loc := &profile.Location{
		ID:   id,
		Line: []profile.Line{{Function: fn, Line: int64(k.Line)}},
	}
	b.locations[k] = loc
	b.p.Location = append(b.p.Location, loc)
	return loc
}
