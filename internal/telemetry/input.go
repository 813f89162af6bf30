package telemetry

import (
	"sort"

	"github.com/rs/zerolog"
)

// Input is the telemetry of one context, in one of two shapes: Sampled or
// Instrumented.
type Input interface {
	Context() string
	Window() (start, end float64)
	isInput()
}

// Sampled is a context captured by a sampling profiler.
type Sampled struct {
	ContextID string
	Trace     *SampledTrace
	StartTime float64
	EndTime   float64
}

// Instrumented is a context captured through start/end records.
type Instrumented struct {
	ContextID string
	Records   []Record
	StartTime float64
	EndTime   float64
}

// Context implements Input.
func (s Sampled) Context() string { return s.ContextID }

// Window implements Input.
func (s Sampled) Window() (start, end float64) { return s.StartTime, s.EndTime }

func (Sampled) isInput() {}

// Context implements Input.
func (i Instrumented) Context() string { return i.ContextID }

// Window implements Input.
func (i Instrumented) Window() (start, end float64) { return i.StartTime, i.EndTime }

func (Instrumented) isInput() {}

// Report counts what Normalize had to fix or discard.
type Report struct {
	DroppedRecords int
	DroppedSamples int
	InvertedRecord int
	// Reattributed counts records whose context id named another context.
	Reattributed int
}

// Normalize is the single validation pass applied at ingestion. It returns an
// input that downstream code can trust: no nil slices, no references out of
// range, no non-finite times, records sorted by start time and attributed to
// the input's context. Inverted records (end before start) are kept, since
// their start still places a sample; exporters that need a duration skip them.
func Normalize(in Input, logger zerolog.Logger) (Input, Report) {
	switch v := in.(type) {
	case Sampled:
		trace, rep := normalizeTrace(v.Trace, logger.With().Str("context_id", v.ContextID).Logger())
		v.Trace = trace
		return v, rep
	case *Sampled:
		return Normalize(*v, logger)
	case Instrumented:
		records, rep := NormalizeRecords(v.ContextID, v.Records, logger)
		v.Records = records
		return v, rep
	case *Instrumented:
		return Normalize(*v, logger)
	default:
		return Instrumented{Records: []Record{}}, Report{}
	}
}

// NormalizeRecords validates and orders the records of one context.
func NormalizeRecords(contextID string, records []Record, logger zerolog.Logger) ([]Record, Report) {
	var rep Report
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.FunctionName == "" || !finite(r.StartTime) || !finite(r.EndTime) {
			rep.DroppedRecords++
			continue
		}
		if r.ContextID != "" && r.ContextID != contextID {
			rep.Reattributed++
		}
		r.ContextID = contextID
		if r.CallStack == nil {
			r.CallStack = []string{}
		}
		if r.Duration() < 0 {
			rep.InvertedRecord++
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime < out[j].StartTime
	})

	if rep.DroppedRecords > 0 || rep.InvertedRecord > 0 || rep.Reattributed > 0 {
		logger.Warn().
			Str("context_id", contextID).
			Int("dropped", rep.DroppedRecords).
			Int("inverted", rep.InvertedRecord).
			Int("reattributed", rep.Reattributed).
			Msg("Malformed telemetry records")
	}
	return out, rep
}

func normalizeTrace(t *SampledTrace, logger zerolog.Logger) (*SampledTrace, Report) {
	var rep Report
	if t == nil {
		return nil, rep
	}

	out := &SampledTrace{
		Frames:  t.Frames,
		Stacks:  t.Stacks,
		Samples: make([]TraceSample, 0, len(t.Samples)),
	}
	if out.Frames == nil {
		out.Frames = []TraceFrame{}
	}
	if out.Stacks == nil {
		out.Stacks = []TraceStack{}
	}

	for _, s := range t.Samples {
		if !finite(s.Timestamp) || s.StackID < 0 || s.StackID >= len(out.Stacks) {
			rep.DroppedSamples++
			continue
		}
		frameID := out.Stacks[s.StackID].FrameID
		if frameID < 0 || frameID >= len(out.Frames) {
			rep.DroppedSamples++
			continue
		}
		out.Samples = append(out.Samples, s)
	}

	if rep.DroppedSamples > 0 {
		logger.Warn().
			Int("dropped", rep.DroppedSamples).
			Int("kept", len(out.Samples)).
			Msg("Dropped samples with dangling stack or frame references")
	}
	return out, rep
}
