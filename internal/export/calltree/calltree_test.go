package calltree

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

func mergedFromRecords(t *testing.T, records []telemetry.Record) *profile.Merged {
	t.Helper()
	p := profile.NewBuilder(nil, zerolog.Nop()).Build(telemetry.Instrumented{
		ContextID: "main",
		Records:   records,
		StartTime: 0,
		EndTime:   20,
	})
	m, err := profile.Merge([]*profile.Profile{p})
	require.NoError(t, err)
	return m
}

func TestExport_ImagePipeline(t *testing.T) {
	m := mergedFromRecords(t, []telemetry.Record{
		{FunctionName: "fetchImage", StartTime: 0, EndTime: 10},
		{FunctionName: "decodeImage", StartTime: 10, EndTime: 15},
		{FunctionName: "processImage", StartTime: 15, EndTime: 20},
	})

	ct := Export(m)

	require.NotNil(t, ct)
	assert.Len(t, ct.Nodes, 3)
	assert.Len(t, ct.Samples, 3)
	assert.Equal(t, []int64{0, 10000, 15000}, ct.TimeDeltas)
	assert.Equal(t, 0.0, ct.StartTime)
	assert.Equal(t, 20.0, ct.EndTime)
	assert.Equal(t, "decodeImage", ct.Nodes[1].CallFrame.FunctionName)
	assert.Equal(t, "main", ct.Nodes[1].CallFrame.ScriptID)
	assert.Equal(t, 1, ct.Nodes[1].HitCount)
}

func TestExport_Nil(t *testing.T) {
	assert.Nil(t, Export(nil))
}

func TestExport_EmptyKeepsTimes(t *testing.T) {
	p := profile.NewBuilder(nil, zerolog.Nop()).Build(telemetry.Sampled{ContextID: "main", StartTime: 3, EndTime: 7})
	m, err := profile.Merge([]*profile.Profile{p})
	require.NoError(t, err)

	ct := Export(m)
	require.NotNil(t, ct)
	assert.True(t, ct.Empty())
	assert.Equal(t, 3.0, ct.StartTime)
	assert.Equal(t, 7.0, ct.EndTime)

	raw, err := json.Marshal(ct)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"samples":[],"timeDeltas":[],"startTime":3,"endTime":7}`, string(raw))
}

func TestExport_JSONShape(t *testing.T) {
	m := mergedFromRecords(t, []telemetry.Record{
		{FunctionName: "tick", StartTime: 1, EndTime: 2},
	})

	raw, err := json.Marshal(Export(m))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"nodes": [{
			"id": 0,
			"callFrame": {"functionName": "tick", "scriptId": "main", "url": "", "lineNumber": 0, "columnNumber": 0},
			"hitCount": 1
		}],
		"samples": [0],
		"timeDeltas": [1000],
		"startTime": 0,
		"endTime": 20
	}`, string(raw))
}

func TestExport_SamplesReferenceNodes(t *testing.T) {
	m := mergedFromRecords(t, []telemetry.Record{
		{FunctionName: "a", StartTime: 0, EndTime: 1},
		{FunctionName: "b", StartTime: 1, EndTime: 2},
		{FunctionName: "a", StartTime: 2, EndTime: 3},
	})
	ct := Export(m)

	ids := map[int]bool{}
	for _, n := range ct.Nodes {
		ids[n.ID] = true
	}
	for _, s := range ct.Samples {
		assert.True(t, ids[s])
	}
}
