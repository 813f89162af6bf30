package flamechart

import (
	"sort"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/perfmerge/internal/export"
	"github.com/coral-mesh/perfmerge/internal/frame"
	"github.com/coral-mesh/perfmerge/internal/logging"
	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Config controls track naming and the degraded evented path.
type Config struct {
	MainTrackName     string
	WorkerTrackPrefix string
	// NominalSampleDuration is the width, in microseconds, given to each
	// sample when an evented track has to be derived from samples.
	NominalSampleDuration int64
	Exporter              string
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		MainTrackName:         "Main Thread",
		WorkerTrackPrefix:     "Worker ",
		NominalSampleDuration: 1000,
	}
}

// Stats reports what the export had to leave out.
type Stats struct {
	DroppedEvents int
	DegradedTrack int
}

// Exporter builds flame-chart files.
type Exporter struct {
	cfg    Config
	logger zerolog.Logger
}

// NewExporter creates an exporter, filling unset config fields with defaults.
func NewExporter(cfg Config, logger zerolog.Logger) *Exporter {
	def := DefaultConfig()
	if cfg.MainTrackName == "" {
		cfg.MainTrackName = def.MainTrackName
	}
	if cfg.WorkerTrackPrefix == "" {
		cfg.WorkerTrackPrefix = def.WorkerTrackPrefix
	}
	if cfg.NominalSampleDuration <= 0 {
		cfg.NominalSampleDuration = def.NominalSampleDuration
	}
	return &Exporter{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "flamechart_exporter"),
	}
}

// WorkerTrackName returns the track name of a worker context. It depends only
// on the worker id.
func (e *Exporter) WorkerTrackName(id string) string {
	return e.cfg.WorkerTrackPrefix + id
}

// Export builds the flame chart. It always returns a well-formed file; with
// no usable context it has an empty frame table and no tracks.
func (e *Exporter) Export(in export.Input) (*File, Stats) {
	var stats Stats
	b := &fileBuilder{frames: frame.NewRegistry()}

	for _, c := range in.Contexts {
		if c.Main {
			if c.Profile.Empty() {
				continue
			}
			b.tracks = append(b.tracks, e.sampledTrack(b, c))
			continue
		}

		switch {
		case len(c.Records) > 0:
			track, dropped := e.eventedFromRecords(b, c, in.GlobalStart)
			stats.DroppedEvents += dropped
			b.tracks = append(b.tracks, track)
		case !c.Profile.Empty():
			track, dropped := e.eventedFromSamples(b, c, in.GlobalStart)
			stats.DroppedEvents += dropped
			stats.DegradedTrack++
			b.tracks = append(b.tracks, track)
		}
	}

	file := &File{
		Schema:   Schema,
		Shared:   Shared{Frames: b.sharedFrames()},
		Profiles: b.tracks,
		Name:     in.Name,
		Exporter: e.cfg.Exporter,
	}
	if file.Profiles == nil {
		file.Profiles = []Track{}
	}

	e.logger.Debug().
		Int("frames", len(file.Shared.Frames)).
		Int("tracks", len(file.Profiles)).
		Int("dropped_events", stats.DroppedEvents).
		Msg("Exported flame chart")

	return file, stats
}

type fileBuilder struct {
	frames *frame.Registry
	tracks []Track
}

// localFrames maps a profile's node ids to shared frame indexes.
func (b *fileBuilder) localFrames(p *profile.Profile) map[int]int {
	ids := make(map[int]int, len(p.Nodes))
	for _, n := range p.Nodes {
		ids[n.ID] = b.frames.InternKey(n.Key, n.Marker)
	}
	return ids
}

func (b *fileBuilder) sharedFrames() []Frame {
	frames := b.frames.Frames()
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[i] = Frame{Name: f.Key.FunctionName, File: f.Key.File, Line: f.Key.Line, Col: f.Key.Col}
	}
	return out
}

// sampledTrack turns the main context's samples into a sampled track whose
// weights are the successive differences of its time deltas.
func (e *Exporter) sampledTrack(b *fileBuilder, c export.Context) Track {
	p := c.Profile
	ids := b.localFrames(p)

	t := Track{
		Type:    TrackSampled,
		Name:    e.cfg.MainTrackName,
		Unit:    UnitMicroseconds,
		Samples: make([][]int, 0, len(p.Samples)),
		Weights: make([]int64, 0, len(p.Samples)),
	}

	var prev int64
	for i, nodeID := range p.Samples {
		idx, ok := ids[nodeID]
		if !ok {
			// Unknown node: attribute to a context-qualified placeholder.
			idx = b.frames.Intern(p.ContextID, "(unknown)", frame.Location{}, nil)
		}

		var delta int64
		if i < len(p.TimeDeltas) {
			delta = p.TimeDeltas[i]
		}
		weight := delta - prev
		if weight < 1 {
			weight = 1
		}
		prev = delta

		t.Samples = append(t.Samples, []int{idx})
		t.Weights = append(t.Weights, weight)
	}

	t.EndValue = p.MaxDelta()
	if t.EndValue <= t.StartValue {
		t.EndValue = t.StartValue + 1
	}
	return t
}

type pendingEvent struct {
	Event
	open, close int64
	seq         int
}

func (e *Exporter) eventedFromRecords(b *fileBuilder, c export.Context, globalStart float64) (Track, int) {
	if c.Profile != nil {
		// Register the profile's frames first so records reuse them.
		b.localFrames(c.Profile)
	}

	var pending []pendingEvent
	dropped := 0
	for i, r := range c.Records {
		if r.FunctionName == "" {
			dropped++
			continue
		}
		open := telemetry.DeltaMicros(r.StartTime, globalStart)
		closeAt := telemetry.DeltaMicros(r.EndTime, globalStart)
		if open < 0 || closeAt < 0 || closeAt < open {
			e.logger.Warn().
				Str("context_id", c.ID).
				Str("function", r.FunctionName).
				Int64("open_us", open).
				Int64("close_us", closeAt).
				Msg("Dropping record with negative or inverted span")
			dropped++
			continue
		}

		idx := b.frames.Intern(c.ID, r.FunctionName, frame.Location{}, nil)
		pending = appendPair(pending, idx, open, closeAt, i)
	}

	return e.eventedTrack(c.ID, pending), dropped
}

// eventedFromSamples is the degraded path for workers whose raw records are
// unavailable: every sample becomes a span of the nominal duration.
func (e *Exporter) eventedFromSamples(b *fileBuilder, c export.Context, globalStart float64) (Track, int) {
	p := c.Profile
	ids := b.localFrames(p)
	offset := telemetry.DeltaMicros(p.StartTime, globalStart)

	e.logger.Warn().
		Str("context_id", c.ID).
		Int("samples", len(p.Samples)).
		Msg("Raw records unavailable, deriving evented track from samples")

	var pending []pendingEvent
	dropped := 0
	for i, nodeID := range p.Samples {
		idx, ok := ids[nodeID]
		if !ok || i >= len(p.TimeDeltas) {
			dropped++
			continue
		}
		open := offset + p.TimeDeltas[i]
		if open < 0 {
			dropped++
			continue
		}
		pending = appendPair(pending, idx, open, open+e.cfg.NominalSampleDuration, i)
	}

	return e.eventedTrack(c.ID, pending), dropped
}

func appendPair(pending []pendingEvent, frameIdx int, open, closeAt int64, seq int) []pendingEvent {
	return append(pending,
		pendingEvent{Event: Event{Type: EventOpen, At: open, Frame: frameIdx}, open: open, close: closeAt, seq: seq},
		pendingEvent{Event: Event{Type: EventClose, At: closeAt, Frame: frameIdx}, open: open, close: closeAt, seq: seq},
	)
}

// eventedTrack orders events by time. At equal times, spans that end there
// close first, then spans open (outermost first), then zero-length spans
// close, so properly nested input stays properly nested.
func (e *Exporter) eventedTrack(contextID string, pending []pendingEvent) Track {
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.At != b.At {
			return a.At < b.At
		}
		ra, rb := eventRank(a), eventRank(b)
		if ra != rb {
			return ra < rb
		}
		switch ra {
		case 0:
			return a.open > b.open
		case 1:
			return a.close > b.close
		default:
			return a.seq > b.seq
		}
	})

	t := Track{
		Type:   TrackEvented,
		Name:   e.WorkerTrackName(contextID),
		Unit:   UnitMicroseconds,
		Events: make([]Event, len(pending)),
	}
	for i, p := range pending {
		t.Events[i] = p.Event
		if p.At > t.EndValue {
			t.EndValue = p.At
		}
	}
	if t.EndValue <= t.StartValue {
		t.EndValue = t.StartValue + 1
	}
	return t
}

func eventRank(e pendingEvent) int {
	switch {
	case e.Type == EventClose && e.open < e.At:
		return 0
	case e.Type == EventOpen:
		return 1
	default:
		return 2
	}
}
