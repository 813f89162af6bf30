package profile

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/perfmerge/internal/frame"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/marker"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

const anonymousFunction = "(anonymous)"

// Builder converts the telemetry of one context into a Profile.
type Builder struct {
	markers *marker.Registry
	logger  zerolog.Logger
}

// NewBuilder creates a builder. markers may be nil.
func NewBuilder(markers *marker.Registry, logger zerolog.Logger) *Builder {
	return &Builder{
		markers: markers,
		logger:  logging.WithComponent(logger, "profile_builder"),
	}
}

// Build normalizes the input and builds its profile. It never fails: missing
// or malformed telemetry yields an empty or partial profile.
func (b *Builder) Build(in telemetry.Input) *Profile {
	if in == nil {
		return newProfile("", 0, 0)
	}

	normalized, rep := telemetry.Normalize(in, b.logger)

	var p *Profile
	switch v := normalized.(type) {
	case telemetry.Sampled:
		p = b.fromSampledTrace(v)
	case telemetry.Instrumented:
		p = b.fromRecords(v)
	default:
		start, end := in.Window()
		p = newProfile(in.Context(), start, end)
	}

	p.Stats.DroppedRecords = rep.DroppedRecords
	p.Stats.DroppedSamples = rep.DroppedSamples
	p.Stats.InvertedRecords = rep.InvertedRecord

	if p.Stats.ClampedDeltas > 0 {
		b.logger.Warn().
			Str("context_id", p.ContextID).
			Int("clamped", p.Stats.ClampedDeltas).
			Msg("Clamped non-monotonic time deltas")
	}

	b.logger.Debug().
		Str("context_id", p.ContextID).
		Int("nodes", len(p.Nodes)).
		Int("samples", len(p.Samples)).
		Msg("Built context profile")

	return p
}

func (b *Builder) fromSampledTrace(in telemetry.Sampled) *Profile {
	p := newProfile(in.ContextID, in.StartTime, in.EndTime)
	if in.Trace.Empty() {
		return p
	}

	reg := frame.NewRegistry()
	var hits []int
	for _, s := range in.Trace.Samples {
		tf := in.Trace.Frames[in.Trace.Stacks[s.StackID].FrameID]
		name := tf.Name
		if name == "" {
			name = anonymousFunction
		}

		id := reg.Intern(in.ContextID, name, frame.Location{File: tf.File, Line: tf.Line, Col: tf.Col}, b.marker(name, ""))
		hits = countHit(hits, id)

		p.Samples = append(p.Samples, id)
		p.TimeDeltas = append(p.TimeDeltas, telemetry.DeltaMicros(s.Timestamp, in.StartTime))
	}

	p.Nodes = nodesFrom(reg, hits)
	p.Stats.ClampedDeltas = normalizeDeltas(p.TimeDeltas)
	return p
}

func (b *Builder) fromRecords(in telemetry.Instrumented) *Profile {
	p := newProfile(in.ContextID, in.StartTime, in.EndTime)
	if len(in.Records) == 0 {
		return p
	}

	// Records arrive sorted by start time from telemetry.Normalize.
	reg := frame.NewRegistry()
	var hits []int
	for _, r := range in.Records {
		id := reg.Intern(in.ContextID, r.FunctionName, frame.Location{}, b.marker(r.FunctionName, r.MarkerRef))
		hits = countHit(hits, id)

		p.Samples = append(p.Samples, id)
		p.TimeDeltas = append(p.TimeDeltas, telemetry.DeltaMicros(r.StartTime, in.StartTime))
	}

	p.Nodes = nodesFrom(reg, hits)
	p.Stats.ClampedDeltas = normalizeDeltas(p.TimeDeltas)
	return p
}

// marker resolves the marker of a function, preferring an explicit reference.
func (b *Builder) marker(functionName, ref string) *marker.Marker {
	if ref != "" {
		if m, ok := b.markers.Lookup(ref); ok {
			return m
		}
	}
	m, _ := b.markers.Lookup(functionName)
	return m
}

func countHit(hits []int, id int) []int {
	for len(hits) <= id {
		hits = append(hits, 0)
	}
	hits[id]++
	return hits
}

func nodesFrom(reg *frame.Registry, hits []int) []Node {
	frames := reg.Frames()
	nodes := make([]Node, len(frames))
	for i, f := range frames {
		nodes[i] = Node{Frame: f}
		if f.ID < len(hits) {
			nodes[i].HitCount = hits[f.ID]
		}
	}
	return nodes
}

// normalizeDeltas walks deltas once and makes them non-decreasing: a value
// below its predecessor becomes predecessor+1 and a negative first value
// becomes zero. It returns the number of values it changed.
func normalizeDeltas(deltas []int64) int {
	clamped := 0
	for i := range deltas {
		if i == 0 {
			if deltas[0] < 0 {
				deltas[0] = 0
				clamped++
			}
			continue
		}
		if deltas[i] < deltas[i-1] {
			deltas[i] = deltas[i-1] + 1
			clamped++
		}
	}
	return clamped
}
