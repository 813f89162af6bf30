package sampler

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

func cpuProfile() *profile.Profile {
	mainFn := &profile.Function{ID: 1, Name: "main.main", Filename: "main.go"}
	work := &profile.Function{ID: 2, Name: "main.work", Filename: "work.go"}
	inlined := &profile.Function{ID: 3, Name: "main.hash", Filename: "work.go"}

	mainLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: mainFn, Line: 10}}}
	// Innermost inline first.
	workLoc := &profile.Location{ID: 2, Line: []profile.Line{{Function: inlined, Line: 42}, {Function: work, Line: 30}}}

	return &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}, {Type: "cpu", Unit: "nanoseconds"}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     10_000_000,
		TimeNanos:  2_000_000_000,
		Function:   []*profile.Function{mainFn, work, inlined},
		Location:   []*profile.Location{mainLoc, workLoc},
		Sample: []*profile.Sample{
			{Location: []*profile.Location{workLoc, mainLoc}, Value: []int64{2, 20_000_000}},
			{Location: []*profile.Location{mainLoc}, Value: []int64{1, 10_000_000}},
		},
	}
}

func TestFromPprof(t *testing.T) {
	p := cpuProfile()
	trace, err := FromPprof(p, StartMillis(p))
	require.NoError(t, err)

	require.Len(t, trace.Frames, 3)
	assert.Equal(t, "main.main", trace.Frames[0].Name)
	assert.Equal(t, "main.work", trace.Frames[1].Name)
	assert.Equal(t, "main.hash", trace.Frames[2].Name)

	// main -> work -> hash
	require.Len(t, trace.Stacks, 3)
	assert.Nil(t, trace.Stacks[0].ParentID)
	require.NotNil(t, trace.Stacks[2].ParentID)
	assert.Equal(t, 1, *trace.Stacks[2].ParentID)

	require.Len(t, trace.Samples, 3)
	assert.Equal(t, []telemetry.TraceSample{
		{Timestamp: 2000, StackID: 2},
		{Timestamp: 2010, StackID: 2},
		{Timestamp: 2020, StackID: 0},
	}, trace.Samples)
}

func TestFromPprof_NoSamples(t *testing.T) {
	_, err := FromPprof(nil, 0)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = FromPprof(&profile.Profile{}, 0)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestPeriodMillis(t *testing.T) {
	tests := []struct {
		name string
		p    *profile.Profile
		want float64
	}{
		{"missing", &profile.Profile{}, 10},
		{"nanoseconds", &profile.Profile{Period: 5_000_000, PeriodType: &profile.ValueType{Unit: "nanoseconds"}}, 5},
		{"microseconds", &profile.Profile{Period: 250, PeriodType: &profile.ValueType{Unit: "microseconds"}}, 0.25},
		{"unknown unit", &profile.Profile{Period: 3, PeriodType: &profile.ValueType{Unit: "bytes"}}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, periodMillis(tt.p))
		})
	}
}

func TestParsePprof_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, cpuProfile().Write(&buf))

	trace, err := ParsePprof(&buf, 0)
	require.NoError(t, err)
	assert.Len(t, trace.Samples, 3)
	assert.Equal(t, 0.0, trace.Samples[0].Timestamp)
}

func TestStatic(t *testing.T) {
	trace := &telemetry.SampledTrace{}

	s := NewStatic(trace)
	assert.Nil(t, s.Stop(), "stop before start returns nothing")
	require.True(t, s.Start())
	assert.Same(t, trace, s.Stop())
	assert.Nil(t, s.Stop())

	unavailable := NewStatic(nil)
	assert.False(t, unavailable.Start())
	assert.Nil(t, unavailable.Stop())
}
