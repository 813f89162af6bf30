package profile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/coral-mesh/perfmerge/internal/frame"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

// ErrNoProfiles is returned by Merge when it is given nothing to merge.
var ErrNoProfiles = errors.New("merge requires at least one profile")

// Merge combines per-context profiles onto the time base of the earliest one.
//
// Inputs are ordered by StartTime. Each profile's node ids are shifted by the
// number of nodes merged before it, so frames of different contexts stay
// distinct. Each sample's delta is shifted by the profile's offset from the
// merged start; a delta that does not move past the previous merged sample is
// bumped to previous+1, so the merged clock strictly advances while every
// source keeps its own relative order.
func Merge(profiles []*Profile) (*Merged, error) {
	inputs := make([]*Profile, 0, len(profiles))
	for _, p := range profiles {
		if p != nil {
			inputs = append(inputs, p)
		}
	}
	if len(inputs) == 0 {
		return nil, ErrNoProfiles
	}

	sort.SliceStable(inputs, func(i, j int) bool {
		return inputs[i].StartTime < inputs[j].StartTime
	})

	merged := &Merged{
		Nodes:      []Node{},
		Samples:    []int{},
		TimeDeltas: []int64{},
		StartTime:  inputs[0].StartTime,
		EndTime:    inputs[0].EndTime,
		Sources:    make([]Source, 0, len(inputs)),
	}
	for _, p := range inputs[1:] {
		if p.EndTime > merged.EndTime {
			merged.EndTime = p.EndTime
		}
	}

	m := merger{merged: merged, taken: make(map[int]struct{})}
	for _, p := range inputs {
		m.add(p)
	}
	return merged, nil
}

type merger struct {
	merged     *Merged
	taken      map[int]struct{}
	nodeOffset int
	nextFree   int
	cumulative int64
}

func (m *merger) add(p *Profile) {
	src := Source{
		ContextID:   p.ContextID,
		NodeOffset:  m.nodeOffset,
		SampleStart: len(m.merged.Samples),
	}
	timeOffset := telemetry.DeltaMicros(p.StartTime, m.merged.StartTime)

	remap := make(map[int]int, len(p.Nodes))
	for _, n := range p.Nodes {
		id := n.ID + m.nodeOffset
		if _, dup := m.taken[id]; dup || id < 0 {
			id = m.synthesize(p.ContextID, n.ID, &n.Frame)
			m.merged.Nodes[len(m.merged.Nodes)-1].HitCount = n.HitCount
			if _, seen := remap[n.ID]; !seen {
				remap[n.ID] = id
			}
			continue
		}
		remap[n.ID] = id
		m.claim(id)
		n.ID = id
		m.merged.Nodes = append(m.merged.Nodes, n)
	}

	dangling := make(map[int]int)
	for i, localID := range p.Samples {
		id, ok := remap[localID]
		if !ok {
			id = m.synthesize(p.ContextID, localID, nil)
			remap[localID] = id
			dangling[id] = len(m.merged.Nodes) - 1
		}
		if idx, ok := dangling[id]; ok {
			m.merged.Nodes[idx].HitCount++
		}

		var delta int64
		if i < len(p.TimeDeltas) {
			delta = p.TimeDeltas[i]
		}
		adjusted := timeOffset + delta
		if len(m.merged.Samples) > 0 && adjusted <= m.cumulative {
			adjusted = m.cumulative + 1
		}
		m.cumulative = adjusted

		m.merged.Samples = append(m.merged.Samples, id)
		m.merged.TimeDeltas = append(m.merged.TimeDeltas, adjusted)
	}

	src.SampleCount = len(m.merged.Samples) - src.SampleStart
	m.merged.Sources = append(m.merged.Sources, src)

	m.nodeOffset += len(p.Nodes)
	if m.nextFree > m.nodeOffset {
		m.nodeOffset = m.nextFree
	}
}

func (m *merger) claim(id int) {
	m.taken[id] = struct{}{}
	if id >= m.nextFree {
		m.nextFree = id + 1
	}
}

// synthesize appends a fresh node for a reference the merge could not place.
// Its name is derived from the context and original id, so repeated merges of
// the same input produce the same frame.
func (m *merger) synthesize(contextID string, localID int, original *frame.Frame) int {
	for {
		if _, dup := m.taken[m.nextFree]; !dup {
			break
		}
		m.nextFree++
	}
	id := m.nextFree
	m.claim(id)

	f := frame.Frame{ID: id}
	if original != nil {
		f.Key = original.Key
		f.Marker = original.Marker
	} else {
		h := xxh3.HashString(fmt.Sprintf("%s/%d", contextID, localID))
		f.Key = frame.Key{ContextID: contextID, FunctionName: fmt.Sprintf("(unresolved %016x)", h)}
	}

	m.merged.Nodes = append(m.merged.Nodes, Node{Frame: f})
	m.merged.Synthesized++
	return id
}
