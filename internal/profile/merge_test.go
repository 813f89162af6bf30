package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

func recordsProfile(t *testing.T, contextID string, start float64, names ...string) *Profile {
	t.Helper()
	records := make([]telemetry.Record, len(names))
	for i, n := range names {
		records[i] = telemetry.Record{FunctionName: n, StartTime: start + float64(i), EndTime: start + float64(i) + 0.5}
	}
	return newTestBuilder(nil).Build(telemetry.Instrumented{
		ContextID: contextID,
		Records:   records,
		StartTime: start,
		EndTime:   start + float64(len(names)),
	})
}

func TestMerge_NoProfiles(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, ErrNoProfiles)

	_, err = Merge([]*Profile{nil, nil})
	assert.ErrorIs(t, err, ErrNoProfiles)
}

func TestMerge_SingleProfileUnchanged(t *testing.T) {
	p := recordsProfile(t, "main", 0, "fetchImage", "decodeImage", "processImage")

	m, err := Merge([]*Profile{p})
	require.NoError(t, err)

	assert.Equal(t, p.Samples, m.Samples)
	assert.Equal(t, p.TimeDeltas, m.TimeDeltas)
	assert.Len(t, m.Nodes, 3)
	assert.Equal(t, 0, m.Synthesized)
}

func TestMerge_NonOverlappingPreservesCountAndOrder(t *testing.T) {
	p1 := recordsProfile(t, "worker-a", 0, "a1", "a2", "a3")
	p2 := recordsProfile(t, "worker-b", 100, "b1", "b2")

	// Input order must not matter: the merger sorts by start time.
	m, err := Merge([]*Profile{p2, p1})
	require.NoError(t, err)

	require.Len(t, m.Samples, len(p1.Samples)+len(p2.Samples))
	assert.Equal(t, 0.0, m.StartTime)
	assert.Equal(t, 102.0, m.EndTime)

	var names []string
	for _, id := range m.Samples {
		n, ok := m.Node(id)
		require.True(t, ok)
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "b1", "b2"}, names)

	// p2 is offset by 100ms from the merged start.
	assert.Equal(t, []int64{0, 1000, 2000, 100000, 101000}, m.TimeDeltas)

	require.Len(t, m.Sources, 2)
	assert.Equal(t, Source{ContextID: "worker-a", NodeOffset: 0, SampleStart: 0, SampleCount: 3}, m.Sources[0])
	assert.Equal(t, Source{ContextID: "worker-b", NodeOffset: 3, SampleStart: 3, SampleCount: 2}, m.Sources[1])
}

func TestMerge_OverlappingClockStrictlyAdvances(t *testing.T) {
	p1 := recordsProfile(t, "worker-a", 0, "a1", "a2", "a3", "a4")
	p2 := recordsProfile(t, "worker-b", 1, "b1", "b2")

	m, err := Merge([]*Profile{p1, p2})
	require.NoError(t, err)

	// p2's samples land at 1000 and 2000 after alignment but the merged clock
	// is already at 3000, so they are bumped.
	assert.Equal(t, []int64{0, 1000, 2000, 3000, 3001, 3002}, m.TimeDeltas)
	for i := 1; i < len(m.TimeDeltas); i++ {
		assert.Greater(t, m.TimeDeltas[i], m.TimeDeltas[i-1])
	}
}

func TestMerge_FramesStayDistinctAcrossContexts(t *testing.T) {
	p1 := recordsProfile(t, "worker-a", 0, "hash")
	p2 := recordsProfile(t, "worker-b", 0, "hash")

	m, err := Merge([]*Profile{p1, p2})
	require.NoError(t, err)

	require.Len(t, m.Nodes, 2)
	assert.NotEqual(t, m.Samples[0], m.Samples[1])
	assert.Equal(t, "worker-a", m.Nodes[0].Key.ContextID)
	assert.Equal(t, "worker-b", m.Nodes[1].Key.ContextID)
	for i, n := range m.Nodes {
		assert.Equal(t, i, n.ID)
	}
}

func TestMerge_EveryReferenceResolves(t *testing.T) {
	p1 := recordsProfile(t, "main", 0, "a", "b", "a")
	p2 := recordsProfile(t, "worker-1", 2, "c", "c", "d")
	p3 := recordsProfile(t, "worker-2", 1)

	m, err := Merge([]*Profile{p1, p2, p3})
	require.NoError(t, err)

	for _, id := range m.Samples {
		_, ok := m.Node(id)
		assert.True(t, ok, "sample references missing node %d", id)
	}
	assert.Len(t, m.TimeDeltas, len(m.Samples))
}

func TestMerge_DanglingSampleSynthesizesFrame(t *testing.T) {
	p := recordsProfile(t, "worker-1", 0, "a", "b")
	p.Samples = append(p.Samples, 42, 42)
	p.TimeDeltas = append(p.TimeDeltas, 5000, 6000)

	m, err := Merge([]*Profile{p})
	require.NoError(t, err)

	assert.Equal(t, 1, m.Synthesized)
	require.Len(t, m.Nodes, 3)

	synth, ok := m.Node(m.Samples[2])
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(synth.Name(), "(unresolved "))
	assert.Equal(t, 2, synth.HitCount)
	assert.Equal(t, m.Samples[2], m.Samples[3])

	again, err := Merge([]*Profile{p})
	require.NoError(t, err)
	synthAgain, _ := again.Node(again.Samples[2])
	assert.Equal(t, synth.Name(), synthAgain.Name(), "synthesized frames are deterministic")
}

func TestMerge_CollidingNodeIDsAreRepaired(t *testing.T) {
	p := recordsProfile(t, "worker-1", 0, "a", "b")
	// Corrupt the profile so both nodes claim id 0.
	p.Nodes[1].ID = 0

	m, err := Merge([]*Profile{p})
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, n := range m.Nodes {
		assert.False(t, seen[n.ID], "duplicate node id %d", n.ID)
		seen[n.ID] = true
	}
	assert.GreaterOrEqual(t, m.Synthesized, 1)
	for _, id := range m.Samples {
		_, ok := m.Node(id)
		assert.True(t, ok)
	}
}

func TestMerge_EmptyProfilesContributeNothing(t *testing.T) {
	empty := newTestBuilder(nil).Build(telemetry.Sampled{ContextID: "main", StartTime: 0, EndTime: 50})
	p := recordsProfile(t, "worker-1", 10, "x")

	m, err := Merge([]*Profile{empty, p})
	require.NoError(t, err)

	assert.Equal(t, []int64{10000}, m.TimeDeltas)
	assert.Equal(t, 0.0, m.StartTime)
	assert.Equal(t, 50.0, m.EndTime)
}
