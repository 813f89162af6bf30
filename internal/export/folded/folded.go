// Package folded writes collected telemetry as folded stacks, one line per
// unique stack ("root;child;leaf weight"), for flamegraph.pl and similar tools.
package folded

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/coral-mesh/perfmerge/internal/export"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// Line is one folded stack with its accumulated weight in microseconds.
type Line struct {
	// Frames are ordered from the root to the leaf. The first frame is the
	// context id so stacks of different contexts never fold together.
	Frames []string
	Weight int64
}

// String renders the line in folded format.
func (l Line) String() string {
	return fmt.Sprintf("%s %d", strings.Join(l.Frames, ";"), l.Weight)
}

// Fold aggregates the input into folded lines sorted by stack. Records are
// weighted by their duration; contexts with only a profile are weighted by the
// time to the next sample.
func Fold(in export.Input) []Line {
	weights := make(map[string]int64)
	frames := make(map[string][]string)

	add := func(stack []string, w int64) {
		key := strings.Join(stack, ";")
		if _, ok := frames[key]; !ok {
			frames[key] = stack
		}
		weights[key] += w
	}

	for _, c := range in.Contexts {
		if len(c.Records) > 0 {
			for _, r := range c.Records {
				if r.FunctionName == "" || r.EndTime < r.StartTime {
					continue
				}
				add(recordStack(c.ID, r), atLeastOne(telemetry.DeltaMicros(r.EndTime, r.StartTime)))
			}
			continue
		}
		if c.Profile.Empty() {
			continue
		}
		p := c.Profile
		for i, nodeID := range p.Samples {
			n, ok := p.Node(nodeID)
			if !ok {
				continue
			}
			var w int64 = 1
			if i+1 < len(p.TimeDeltas) {
				w = atLeastOne(p.TimeDeltas[i+1] - p.TimeDeltas[i])
			}
			add([]string{sanitize(c.ID), sanitize(n.Name())}, w)
		}
	}

	lines := make([]Line, 0, len(weights))
	for key, w := range weights {
		lines = append(lines, Line{Frames: frames[key], Weight: w})
	}
	sort.Slice(lines, func(i, j int) bool {
		return strings.Join(lines[i].Frames, ";") < strings.Join(lines[j].Frames, ";")
	})
	return lines
}

// Write folds the input and writes one line per stack.
func Write(w io.Writer, in export.Input) error {
	bw := bufio.NewWriter(w)
	for _, l := range Fold(in) {
		if _, err := fmt.Fprintln(bw, l.String()); err != nil {
			return fmt.Errorf("failed to write folded stack: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush folded stacks: %w", err)
	}
	return nil
}

func recordStack(contextID string, r telemetry.Record) []string {
	stack := make([]string, 0, len(r.CallStack)+2)
	stack = append(stack, sanitize(contextID))
	for _, name := range r.CallStack {
		if name != "" {
			stack = append(stack, sanitize(name))
		}
	}
	if n := len(r.CallStack); n == 0 || r.CallStack[n-1] != r.FunctionName {
		stack = append(stack, sanitize(r.FunctionName))
	}
	return stack
}

// sanitize keeps frame names from breaking the line format.
func sanitize(name string) string {
	return strings.NewReplacer(";", ":", "\n", " ", " ", "_").Replace(name)
}

func atLeastOne(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}
