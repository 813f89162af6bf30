// Package sampler adapts externally captured stack samples into the sampled
// trace shape consumed by the profile builder.
package sampler

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/perfmerge/internal/safe"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// maxExpandedSamples bounds how many trace samples one pprof sample may expand
// into.
const maxExpandedSamples = 10000

// ErrNoSamples is returned when a pprof profile has nothing to convert.
var ErrNoSamples = errors.New("pprof profile has no samples")

// ParsePprof reads a pprof profile (gzip-compressed or not) and converts it.
func ParsePprof(r io.Reader, startMs float64) (*telemetry.SampledTrace, error) {
	p, err := profile.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pprof profile: %w", err)
	}
	return FromPprof(p, startMs)
}

// StartMillis returns the profile start time in milliseconds.
func StartMillis(p *profile.Profile) float64 {
	return float64(p.TimeNanos) / 1e6
}

// FromPprof converts a pprof profile into a SampledTrace. Each pprof sample
// whose count is N becomes N trace samples spread one period apart, starting
// at startMs. Inlined functions of a location become separate frames.
func FromPprof(p *profile.Profile, startMs float64) (*telemetry.SampledTrace, error) {
	if p == nil || len(p.Sample) == 0 {
		return nil, ErrNoSamples
	}

	c := newConverter()
	period := periodMillis(p)
	countIdx := countIndex(p)
	at := startMs

	for _, s := range p.Sample {
		stackID, ok := c.stack(s.Location)
		if !ok {
			continue
		}

		n := int64(1)
		if countIdx >= 0 && countIdx < len(s.Value) && s.Value[countIdx] > 1 {
			n = min(s.Value[countIdx], maxExpandedSamples)
		}
		for range n {
			c.trace.Samples = append(c.trace.Samples, telemetry.TraceSample{Timestamp: at, StackID: stackID})
			at += period
		}
	}

	if len(c.trace.Samples) == 0 {
		return nil, ErrNoSamples
	}
	return c.trace, nil
}

type frameKey struct {
	name, file string
	line       int64
}

type stackKey struct {
	parent  int
	frameID int
}

type converter struct {
	trace  *telemetry.SampledTrace
	frames map[frameKey]int
	stacks map[stackKey]int
}

func newConverter() *converter {
	return &converter{
		trace: &telemetry.SampledTrace{
			Frames:  []telemetry.TraceFrame{},
			Stacks:  []telemetry.TraceStack{},
			Samples: []telemetry.TraceSample{},
		},
		frames: make(map[frameKey]int),
		stacks: make(map[stackKey]int),
	}
}

// stack interns the root-to-leaf path of locs (leaf first, as pprof stores
// them) and returns the id of the leaf stack entry.
func (c *converter) stack(locs []*profile.Location) (int, bool) {
	parent := -1
	for i := len(locs) - 1; i >= 0; i-- {
		loc := locs[i]
		if loc == nil {
			continue
		}
		// Lines are ordered innermost inline first.
		for j := len(loc.Line) - 1; j >= 0; j-- {
			parent = c.push(parent, c.frame(loc.Line[j]))
		}
		if len(loc.Line) == 0 {
			parent = c.push(parent, c.frame(profile.Line{}))
		}
	}
	return parent, parent >= 0
}

func (c *converter) frame(l profile.Line) int {
	k := frameKey{line: l.Line}
	if l.Function != nil {
		k.name = l.Function.Name
		k.file = l.Function.Filename
	}
	if id, ok := c.frames[k]; ok {
		return id
	}
	id := len(c.trace.Frames)
	line, _ := safe.Int64ToInt(k.line)
	c.trace.Frames = append(c.trace.Frames, telemetry.TraceFrame{Name: k.name, File: k.file, Line: line})
	c.frames[k] = id
	return id
}

func (c *converter) push(parent, frameID int) int {
	k := stackKey{parent: parent, frameID: frameID}
	if id, ok := c.stacks[k]; ok {
		return id
	}
	id := len(c.trace.Stacks)
	entry := telemetry.TraceStack{FrameID: frameID}
	if parent >= 0 {
		p := parent
		entry.ParentID = &p
	}
	c.trace.Stacks = append(c.trace.Stacks, entry)
	c.stacks[k] = id
	return id
}

// periodMillis returns the sampling period in milliseconds, defaulting to
// 10ms (100Hz) when the profile does not say.
func periodMillis(p *profile.Profile) float64 {
	if p.Period <= 0 || p.PeriodType == nil {
		return 10
	}
	v := float64(p.Period)
	switch p.PeriodType.Unit {
	case "nanoseconds":
		return v / 1e6
	case "microseconds":
		return v / 1e3
	case "milliseconds":
		return v
	case "seconds":
		return v * 1e3
	default:
		return 10
	}
}

// countIndex returns the index of the samples/count value, or -1.
func countIndex(p *profile.Profile) int {
	for i, st := range p.SampleType {
		if st.Type == "samples" && st.Unit == "count" {
			return i
		}
	}
	return -1
}
