package profile

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/perfmerge/internal/marker"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

func newTestBuilder(markers *marker.Registry) *Builder {
	return NewBuilder(markers, zerolog.Nop())
}

func assertNonDecreasing(t *testing.T, deltas []int64) {
	t.Helper()
	for i := 1; i < len(deltas); i++ {
		assert.GreaterOrEqual(t, deltas[i], deltas[i-1], "delta %d decreased", i)
	}
}

func TestBuild_ImagePipelineRecords(t *testing.T) {
	b := newTestBuilder(nil)

	p := b.Build(telemetry.Instrumented{
		ContextID: "main",
		StartTime: 0,
		EndTime:   20,
		Records: []telemetry.Record{
			{FunctionName: "fetchImage", StartTime: 0, EndTime: 10},
			{FunctionName: "decodeImage", StartTime: 10, EndTime: 15},
			{FunctionName: "processImage", StartTime: 15, EndTime: 20},
		},
	})

	require.Len(t, p.Nodes, 3)
	assert.Equal(t, []int{0, 1, 2}, p.Samples)
	assert.Equal(t, []int64{0, 10000, 15000}, p.TimeDeltas)
	assert.Equal(t, "fetchImage", p.Nodes[0].Name())
	assert.Equal(t, 0, p.Stats.ClampedDeltas)
}

func TestBuild_RecordsReuseFramesAndCountHits(t *testing.T) {
	b := newTestBuilder(nil)

	p := b.Build(telemetry.Instrumented{
		ContextID: "worker-1",
		StartTime: 100,
		Records: []telemetry.Record{
			{FunctionName: "hash", StartTime: 101, EndTime: 102},
			{FunctionName: "hash", StartTime: 103, EndTime: 104},
			{FunctionName: "write", StartTime: 105, EndTime: 106},
			{FunctionName: "hash", StartTime: 107, EndTime: 108},
		},
	})

	require.Len(t, p.Nodes, 2)
	assert.Equal(t, 3, p.Nodes[0].HitCount)
	assert.Equal(t, 1, p.Nodes[1].HitCount)
	assert.Equal(t, []int{0, 0, 1, 0}, p.Samples)
	for _, n := range p.Nodes {
		assert.Equal(t, "worker-1", n.Key.ContextID)
	}
}

func TestBuild_RecordsSortedByStartTime(t *testing.T) {
	b := newTestBuilder(nil)

	p := b.Build(telemetry.Instrumented{
		ContextID: "main",
		Records: []telemetry.Record{
			{FunctionName: "c", StartTime: 3, EndTime: 4},
			{FunctionName: "a", StartTime: 1, EndTime: 2},
			{FunctionName: "b", StartTime: 2, EndTime: 3},
		},
	})

	var names []string
	for _, id := range p.Samples {
		n, ok := p.Node(id)
		require.True(t, ok)
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, []int64{1000, 2000, 3000}, p.TimeDeltas)
}

func TestBuild_NegativeDeltasClamped(t *testing.T) {
	b := newTestBuilder(nil)

	// Records that precede the context start (skewed clock).
	p := b.Build(telemetry.Instrumented{
		ContextID: "worker-1",
		StartTime: 50,
		Records: []telemetry.Record{
			{FunctionName: "early", StartTime: 40, EndTime: 45},
			{FunctionName: "later", StartTime: 60, EndTime: 70},
		},
	})

	assert.Equal(t, []int64{0, 10000}, p.TimeDeltas)
	assert.Equal(t, 1, p.Stats.ClampedDeltas)
}

func TestNormalizeDeltas(t *testing.T) {
	tests := []struct {
		name    string
		in      []int64
		want    []int64
		clamped int
	}{
		{name: "empty", in: []int64{}, want: []int64{}},
		{name: "already monotonic", in: []int64{0, 5, 5, 9}, want: []int64{0, 5, 5, 9}},
		{name: "single dip", in: []int64{0, 10, 3, 20}, want: []int64{0, 10, 11, 20}},
		{name: "run of dips", in: []int64{10, 1, 2, 3}, want: []int64{10, 11, 12, 13}, clamped: 3},
		{name: "negative first", in: []int64{-4, 2}, want: []int64{0, 2}, clamped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := append([]int64{}, tt.in...)
			n := normalizeDeltas(got)
			assert.Equal(t, tt.want, got)
			if tt.clamped > 0 {
				assert.Equal(t, tt.clamped, n)
			}
		})
	}
}

func sampleTrace() *telemetry.SampledTrace {
	return &telemetry.SampledTrace{
		Frames: []telemetry.TraceFrame{
			{Name: "main", File: "app.js", Line: 1, Col: 1},
			{Name: "render", File: "ui.js", Line: 40, Col: 2},
			{Name: "render", File: "ui.js", Line: 90, Col: 2},
			{Name: ""},
		},
		Stacks: []telemetry.TraceStack{
			{FrameID: 0},
			{FrameID: 1, ParentID: intPtr(0)},
			{FrameID: 2, ParentID: intPtr(0)},
			{FrameID: 3},
		},
		Samples: []telemetry.TraceSample{
			{Timestamp: 1000, StackID: 1},
			{Timestamp: 1001, StackID: 1},
			{Timestamp: 1002.5, StackID: 2},
			{Timestamp: 1002, StackID: 3},
			{Timestamp: 1004, StackID: 0},
		},
	}
}

func intPtr(v int) *int { return &v }

func TestBuild_SampledTrace(t *testing.T) {
	b := newTestBuilder(nil)

	p := b.Build(telemetry.Sampled{ContextID: "main", Trace: sampleTrace(), StartTime: 1000, EndTime: 1005})

	require.Len(t, p.Samples, 5)
	// Same name on different lines yields two frames.
	require.Len(t, p.Nodes, 4)
	assert.Equal(t, []int{0, 0, 1, 2, 3}, p.Samples)
	assert.Equal(t, 2, p.Nodes[0].HitCount)
	assert.Equal(t, 40, p.Nodes[0].Key.Line)
	assert.Equal(t, 90, p.Nodes[1].Key.Line)
	assert.Equal(t, anonymousFunction, p.Nodes[2].Name())

	// The out-of-order sample at 1002 is clamped past its predecessor.
	assert.Equal(t, []int64{0, 1000, 2500, 2501, 4000}, p.TimeDeltas)
	assert.Equal(t, 1, p.Stats.ClampedDeltas)
	assertNonDecreasing(t, p.TimeDeltas)
}

func TestBuild_EmptyInputs(t *testing.T) {
	b := newTestBuilder(nil)

	tests := []struct {
		name string
		in   telemetry.Input
	}{
		{name: "nil trace", in: telemetry.Sampled{ContextID: "main", StartTime: 5, EndTime: 9}},
		{name: "trace without samples", in: telemetry.Sampled{ContextID: "main", Trace: &telemetry.SampledTrace{Stacks: []telemetry.TraceStack{{}}}}},
		{name: "trace without stacks", in: telemetry.Sampled{ContextID: "main", Trace: &telemetry.SampledTrace{Samples: []telemetry.TraceSample{{}}}}},
		{name: "no records", in: telemetry.Instrumented{ContextID: "worker-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := b.Build(tt.in)
			require.NotNil(t, p)
			assert.True(t, p.Empty())
			assert.NotNil(t, p.Nodes)
			assert.NotNil(t, p.Samples)
			assert.NotNil(t, p.TimeDeltas)
		})
	}

	p := b.Build(nil)
	assert.True(t, p.Empty())
}

func TestBuild_DedupAcrossItemsInOneContext(t *testing.T) {
	b := newTestBuilder(nil)
	trace := &telemetry.SampledTrace{
		Frames: []telemetry.TraceFrame{
			{Name: "tick", File: "loop.js", Line: 3, Col: 7},
			{Name: "tick", File: "loop.js", Line: 3, Col: 7},
		},
		Stacks:  []telemetry.TraceStack{{FrameID: 0}, {FrameID: 1}},
		Samples: []telemetry.TraceSample{{Timestamp: 0, StackID: 0}, {Timestamp: 1, StackID: 1}},
	}

	p := b.Build(telemetry.Sampled{ContextID: "main", Trace: trace})

	require.Len(t, p.Nodes, 1)
	assert.Equal(t, p.Samples[0], p.Samples[1])
	assert.Equal(t, 2, p.Nodes[0].HitCount)
}

func TestBuild_Markers(t *testing.T) {
	markers := marker.NewRegistry()
	markers.Set("fetchImage", marker.Marker{Category: marker.CategoryNetwork})
	markers.Set("gpu-upload", marker.Marker{Category: marker.CategoryRender, Description: "upload"})

	b := newTestBuilder(markers)
	p := b.Build(telemetry.Instrumented{
		ContextID: "main",
		Records: []telemetry.Record{
			{FunctionName: "fetchImage", StartTime: 0, EndTime: 1},
			{FunctionName: "upload", StartTime: 1, EndTime: 2, MarkerRef: "gpu-upload"},
			{FunctionName: "plain", StartTime: 2, EndTime: 3},
		},
	})

	require.Len(t, p.Nodes, 3)
	require.NotNil(t, p.Nodes[0].Marker)
	assert.Equal(t, marker.CategoryNetwork, p.Nodes[0].Marker.Category)
	require.NotNil(t, p.Nodes[1].Marker)
	assert.Equal(t, "upload", p.Nodes[1].Marker.Description)
	assert.Nil(t, p.Nodes[2].Marker)
}

func TestBuild_StatsFromNormalization(t *testing.T) {
	b := newTestBuilder(nil)
	p := b.Build(telemetry.Instrumented{
		ContextID: "main",
		Records: []telemetry.Record{
			{FunctionName: "", StartTime: 0, EndTime: 1},
			{FunctionName: "backwards", StartTime: 5, EndTime: 2},
		},
	})

	assert.Equal(t, 1, p.Stats.DroppedRecords)
	assert.Equal(t, 1, p.Stats.InvertedRecords)
	assert.Len(t, p.Samples, 1)
}
