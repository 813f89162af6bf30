// Package profile turns the telemetry of individual contexts into per-context
// profiles and merges those onto one time base.
package profile

import (
	"github.com/coral-mesh/perfmerge/internal/frame"
)

// Node is a frame with the number of samples that hit it.
type Node struct {
	frame.Frame
	HitCount int
}

// Profile is the intermediate representation of one context. Samples hold
// node ids; TimeDeltas hold, per sample, the microseconds elapsed since
// StartTime and never decrease.
type Profile struct {
	ContextID  string
	Nodes      []Node
	Samples    []int
	TimeDeltas []int64
	StartTime  float64
	EndTime    float64

	Stats BuildStats
}

// BuildStats records what the builder had to repair.
type BuildStats struct {
	DroppedRecords  int
	DroppedSamples  int
	InvertedRecords int
	ClampedDeltas   int
}

func newProfile(contextID string, start, end float64) *Profile {
	return &Profile{
		ContextID:  contextID,
		Nodes:      []Node{},
		Samples:    []int{},
		TimeDeltas: []int64{},
		StartTime:  start,
		EndTime:    end,
	}
}

// Empty reports whether the profile has no samples.
func (p *Profile) Empty() bool {
	return p == nil || len(p.Samples) == 0
}

// Node returns the node with the given id.
func (p *Profile) Node(id int) (Node, bool) {
	return findNode(p.Nodes, id)
}

// MaxDelta returns the largest time delta, or zero for an empty profile.
func (p *Profile) MaxDelta() int64 {
	return maxDelta(p.TimeDeltas)
}

// Merged spans several contexts. Node ids are unique across all of them and
// TimeDeltas are measured from the earliest StartTime.
type Merged struct {
	Nodes      []Node
	Samples    []int
	TimeDeltas []int64
	StartTime  float64
	EndTime    float64

	// Sources lists the merged profiles in merge order.
	Sources []Source
	// Synthesized counts nodes created to repair dangling or colliding ids.
	Synthesized int
}

// Source locates one input profile inside a Merged profile.
type Source struct {
	ContextID   string
	NodeOffset  int
	SampleStart int
	SampleCount int
}

// Empty reports whether the merged profile has no samples.
func (m *Merged) Empty() bool {
	return m == nil || len(m.Samples) == 0
}

// Node returns the node with the given id.
func (m *Merged) Node(id int) (Node, bool) {
	return findNode(m.Nodes, id)
}

func findNode(nodes []Node, id int) (Node, bool) {
	// Ids are dense in the common case.
	if id >= 0 && id < len(nodes) && nodes[id].ID == id {
		return nodes[id], true
	}
	for _, n := range nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func maxDelta(deltas []int64) int64 {
	var m int64
	for _, d := range deltas {
		if d > m {
			m = d
		}
	}
	return m
}
