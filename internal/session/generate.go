package session

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	pprofile "github.com/google/pprof/profile"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/perfmerge/internal/export"
	"github.com/coral-mesh/perfmerge/internal/export/calltree"
	"github.com/coral-mesh/perfmerge/internal/export/flamechart"
	"github.com/coral-mesh/perfmerge/internal/export/folded"
	"github.com/coral-mesh/perfmerge/internal/metrics"
	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/store"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// snapshot is the collected state of a stopped run.
type snapshot struct {
	id        string
	mainID    string
	startTime float64
	endTime   float64
	trace     *telemetry.SampledTrace
	records   map[string][]telemetry.Record
	workerIDs []string
}

func (s *Session) snapshot() (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return snapshot{}, ErrNotStopped
	}

	snap := snapshot{
		id:        s.id,
		mainID:    s.cfg.MainContextID,
		startTime: s.startTime,
		endTime:   s.endTime,
		trace:     s.trace,
		records:   make(map[string][]telemetry.Record, len(s.records)),
	}
	if s.main != nil {
		snap.mainID = s.main.ContextID()
	}
	for id, r := range s.records {
		snap.records[id] = r
		if id != snap.mainID {
			snap.workerIDs = append(snap.workerIDs, id)
		}
	}
	sort.Strings(snap.workerIDs)
	return snap, nil
}

// window returns the time window of a context's profile: the session window,
// widened to cover records that fall outside it.
func (snap snapshot) window(records []telemetry.Record) (float64, float64) {
	start, end := snap.startTime, snap.endTime
	for _, r := range records {
		if !math.IsNaN(r.StartTime) && r.StartTime < start {
			start = r.StartTime
		}
		if !math.IsNaN(r.EndTime) && !math.IsInf(r.EndTime, 0) && r.EndTime > end {
			end = r.EndTime
		}
	}
	return start, end
}

// contextData is the built data of one context.
type contextData struct {
	id      string
	main    bool
	profile *profile.Profile
	records []telemetry.Record
}

// build turns the snapshot into per-context profiles, main first and workers
// by id. A context without any telemetry yields no entry.
func (s *Session) build(snap snapshot) []contextData {
	var out []contextData

	// An empty trace degrades to the main context's records. The records are
	// attached either way so record-based exporters keep call stacks and memory.
	mainRecords := snap.records[snap.mainID]
	switch {
	case !snap.trace.Empty():
		out = append(out, contextData{
			id:   snap.mainID,
			main: true,
			profile: s.builder.Build(telemetry.Sampled{
				ContextID: snap.mainID,
				Trace:     snap.trace,
				StartTime: snap.startTime,
				EndTime:   snap.endTime,
			}),
			records: mainRecords,
		})
	case len(mainRecords) > 0:
		start, end := snap.window(mainRecords)
		out = append(out, contextData{
			id:   snap.mainID,
			main: true,
			profile: s.builder.Build(telemetry.Instrumented{
				ContextID: snap.mainID,
				Records:   mainRecords,
				StartTime: start,
				EndTime:   end,
			}),
			records: mainRecords,
		})
	}

	for _, id := range snap.workerIDs {
		records := snap.records[id]
		if len(records) == 0 {
			continue
		}
		start, end := snap.window(records)
		out = append(out, contextData{
			id: id,
			profile: s.builder.Build(telemetry.Instrumented{
				ContextID: id,
				Records:   records,
				StartTime: start,
				EndTime:   end,
			}),
			records: records,
		})
	}

	for _, c := range out {
		st := c.profile.Stats
		metrics.RecordDropped("malformed", st.DroppedRecords)
		metrics.RecordDropped("invalid_sample", st.DroppedSamples)
		metrics.RecordDropped("inverted", st.InvertedRecords)
		metrics.DeltasClamped(st.ClampedDeltas)
	}
	return out
}

func exportInput(name string, data []contextData) export.Input {
	in := export.Input{Name: name}
	first := true
	for _, c := range data {
		ctx := export.Context{ID: c.id, Main: c.main, Profile: c.profile}
		if len(c.records) > 0 {
			// The builder already reported what normalization drops.
			ctx.Records, _ = telemetry.NormalizeRecords(c.id, c.records, zerolog.Nop())
		}
		in.Contexts = append(in.Contexts, ctx)

		if first || c.profile.StartTime < in.GlobalStart {
			in.GlobalStart = c.profile.StartTime
		}
		if first || c.profile.EndTime > in.GlobalEnd {
			in.GlobalEnd = c.profile.EndTime
		}
		first = false
	}
	export.SortContexts(in.Contexts)
	return in
}

func (s *Session) name(id string) string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "perfmerge " + id
}

// GenerateCallTree merges every context's profile and exports the call tree.
// It returns nil when no context produced telemetry.
func (s *Session) GenerateCallTree(ctx context.Context) (*calltree.CallTree, error) {
	start := time.Now()
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	data := s.build(snap)
	if len(data) == 0 {
		s.logNothing(snap, metrics.ArtifactCallTree, start)
		return nil, nil
	}

	profiles := make([]*profile.Profile, len(data))
	for i, c := range data {
		profiles[i] = c.profile
	}
	merged, err := profile.Merge(profiles)
	if err != nil {
		return nil, err
	}
	metrics.FramesSynthesized(merged.Synthesized)

	tree := calltree.Export(merged)
	metrics.Generated(metrics.ArtifactCallTree, tree.Empty(), time.Since(start))

	s.logger.Info().
		Str("session_id", snap.id).
		Int("contexts", len(data)).
		Int("nodes", len(tree.Nodes)).
		Int("samples", len(tree.Samples)).
		Int("synthesized_frames", merged.Synthesized).
		Msg("Generated call tree")

	s.persistJSON(ctx, snap.id, metrics.ArtifactCallTree, tree, len(data), len(tree.Samples))
	return tree, nil
}

// GenerateFlameChart exports one track per context over a shared frame table.
// It returns nil when no context produced telemetry.
func (s *Session) GenerateFlameChart(ctx context.Context) (*flamechart.File, error) {
	start := time.Now()
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	data := s.build(snap)
	if len(data) == 0 {
		s.logNothing(snap, metrics.ArtifactFlameChart, start)
		return nil, nil
	}

	file, stats := s.flame.Export(exportInput(s.name(snap.id), data))
	metrics.EventsDropped(stats.DroppedEvents)
	metrics.Generated(metrics.ArtifactFlameChart, len(file.Profiles) == 0, time.Since(start))

	s.logger.Info().
		Str("session_id", snap.id).
		Int("tracks", len(file.Profiles)).
		Int("frames", len(file.Shared.Frames)).
		Int("dropped_events", stats.DroppedEvents).
		Int("degraded_tracks", stats.DegradedTrack).
		Msg("Generated flame chart")

	s.persistJSON(ctx, snap.id, metrics.ArtifactFlameChart, file, len(data), len(file.Profiles))
	return file, nil
}

// GeneratePprof exports the run as a pprof profile. It returns nil when no
// context produced telemetry.
func (s *Session) GeneratePprof(ctx context.Context) (*pprofile.Profile, error) {
	start := time.Now()
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	data := s.build(snap)
	if len(data) == 0 {
		s.logNothing(snap, metrics.ArtifactPprof, start)
		return nil, nil
	}

	p, err := s.pprof.Export(exportInput(s.name(snap.id), data))
	if err != nil {
		return nil, err
	}
	metrics.Generated(metrics.ArtifactPprof, len(p.Sample) == 0, time.Since(start))

	s.logger.Info().
		Str("session_id", snap.id).
		Int("samples", len(p.Sample)).
		Int("functions", len(p.Function)).
		Msg("Generated pprof profile")

	if s.store != nil {
		var buf bytes.Buffer
		if err := p.Write(&buf); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to encode pprof profile for storage")
		} else {
			s.persist(ctx, snap.id, metrics.ArtifactPprof, "application/vnd.google.protobuf+gzip", buf.Bytes(), len(data), len(p.Sample))
		}
	}
	return p, nil
}

// GenerateFolded exports the run as folded stacks. It returns nil when no
// context produced telemetry.
func (s *Session) GenerateFolded(ctx context.Context) ([]folded.Line, error) {
	start := time.Now()
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	data := s.build(snap)
	if len(data) == 0 {
		s.logNothing(snap, metrics.ArtifactFolded, start)
		return nil, nil
	}

	in := exportInput(s.name(snap.id), data)
	lines := folded.Fold(in)
	metrics.Generated(metrics.ArtifactFolded, len(lines) == 0, time.Since(start))

	s.logger.Info().
		Str("session_id", snap.id).
		Int("stacks", len(lines)).
		Msg("Generated folded stacks")

	if s.store != nil {
		var buf bytes.Buffer
		if err := folded.Write(&buf, in); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to encode folded stacks for storage")
		} else {
			s.persist(ctx, snap.id, metrics.ArtifactFolded, "text/plain", buf.Bytes(), len(data), len(lines))
		}
	}
	return lines, nil
}

func (s *Session) logNothing(snap snapshot, artifact string, start time.Time) {
	metrics.Generated(artifact, true, time.Since(start))
	s.logger.Warn().
		Str("session_id", snap.id).
		Str("artifact", artifact).
		Msg("No telemetry collected, nothing to profile")
}

func (s *Session) persistJSON(ctx context.Context, sessionID, kind string, v any, contexts, samples int) {
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn().Err(err).Str("artifact", kind).Msg("Failed to encode artifact for storage")
		return
	}
	s.persist(ctx, sessionID, kind, "application/json", payload, contexts, samples)
}

// persist stores an artifact. Storage failures are logged; they never fail
// generation.
func (s *Session) persist(ctx context.Context, sessionID, kind, contentType string, payload []byte, contexts, samples int) {
	a := &store.Artifact{
		SessionID:   sessionID,
		Kind:        kind,
		Contexts:    contexts,
		Samples:     samples,
		ContentType: contentType,
		Payload:     payload,
	}
	if err := s.store.Save(ctx, a); err != nil {
		s.logger.Warn().Err(err).Str("artifact", kind).Msg("Failed to persist artifact")
	}
}
