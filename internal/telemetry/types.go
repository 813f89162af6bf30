// Package telemetry defines the raw timing data produced by execution
// contexts and the contracts of the collaborators that produce it.
package telemetry

import "math"

// Record is a discrete start/end measurement of one function call, emitted by
// instrumentation running inside a context. Times are milliseconds on the
// context's own clock.
type Record struct {
	ContextID    string   `json:"contextId" yaml:"contextId"`
	FunctionName string   `json:"functionName" yaml:"functionName"`
	StartTime    float64  `json:"startTime" yaml:"startTime"`
	EndTime      float64  `json:"endTime" yaml:"endTime"`
	CallStack    []string `json:"callStack,omitempty" yaml:"callStack,omitempty"`
	MemoryBefore *int64   `json:"memoryBefore,omitempty" yaml:"memoryBefore,omitempty"`
	MemoryAfter  *int64   `json:"memoryAfter,omitempty" yaml:"memoryAfter,omitempty"`
	MarkerRef    string   `json:"markerRef,omitempty" yaml:"markerRef,omitempty"`
}

// Duration returns EndTime - StartTime in milliseconds. It is negative for
// inverted records.
func (r Record) Duration() float64 {
	return r.EndTime - r.StartTime
}

// MemoryDelta returns the allocation delta recorded around the call, if both
// readings are present.
func (r Record) MemoryDelta() (int64, bool) {
	if r.MemoryBefore == nil || r.MemoryAfter == nil {
		return 0, false
	}
	return *r.MemoryAfter - *r.MemoryBefore, true
}

// SampledTrace is a stack-sampling capture for exactly one context.
type SampledTrace struct {
	Frames  []TraceFrame  `json:"frames" yaml:"frames"`
	Stacks  []TraceStack  `json:"stacks" yaml:"stacks"`
	Samples []TraceSample `json:"samples" yaml:"samples"`
}

// TraceFrame is a frame as reported by the sampling profiler.
type TraceFrame struct {
	Name string `json:"name" yaml:"name"`
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	Line int    `json:"line,omitempty" yaml:"line,omitempty"`
	Col  int    `json:"col,omitempty" yaml:"col,omitempty"`
}

// TraceStack is one entry of the stack table. FrameID indexes Frames and
// ParentID, when set, indexes Stacks.
type TraceStack struct {
	FrameID  int  `json:"frameId" yaml:"frameId"`
	ParentID *int `json:"parentId,omitempty" yaml:"parentId,omitempty"`
}

// TraceSample is one sample; StackID indexes Stacks.
type TraceSample struct {
	Timestamp float64 `json:"timestamp" yaml:"timestamp"`
	StackID   int     `json:"stackId" yaml:"stackId"`
}

// Empty reports whether the trace carries nothing usable.
func (t *SampledTrace) Empty() bool {
	return t == nil || len(t.Samples) == 0 || len(t.Stacks) == 0
}

// DeltaMicros converts the distance between a millisecond timestamp and its
// origin to whole microseconds.
func DeltaMicros(t, origin float64) int64 {
	return int64(math.Round((t - origin) * 1000))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
