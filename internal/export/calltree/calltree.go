// Package calltree exports a merged profile as a DevTools-style call tree
// (the .cpuprofile JSON shape).
package calltree

import (
	"github.com/coral-mesh/perfmerge/internal/profile"
)

// CallTree is the exported artifact. Field names and JSON tags are part of
// the file format.
type CallTree struct {
	Nodes      []Node  `json:"nodes"`
	Samples    []int   `json:"samples"`
	TimeDeltas []int64 `json:"timeDeltas"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
}

// Node is one call-tree node.
type Node struct {
	ID        int       `json:"id"`
	CallFrame CallFrame `json:"callFrame"`
	HitCount  int       `json:"hitCount"`
}

// CallFrame identifies the function of a node.
type CallFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// Export flattens a merged profile into a CallTree. A nil profile yields nil;
// an empty one yields empty arrays with the original start and end times.
func Export(m *profile.Merged) *CallTree {
	if m == nil {
		return nil
	}

	ct := &CallTree{
		Nodes:      make([]Node, 0, len(m.Nodes)),
		Samples:    make([]int, len(m.Samples)),
		TimeDeltas: make([]int64, len(m.TimeDeltas)),
		StartTime:  m.StartTime,
		EndTime:    m.EndTime,
	}
	copy(ct.Samples, m.Samples)
	copy(ct.TimeDeltas, m.TimeDeltas)

	for _, n := range m.Nodes {
		ct.Nodes = append(ct.Nodes, Node{
			ID: n.ID,
			CallFrame: CallFrame{
				FunctionName: n.Key.FunctionName,
				ScriptID:     n.Key.ContextID,
				URL:          n.Key.File,
				LineNumber:   n.Key.Line,
				ColumnNumber: n.Key.Col,
			},
			HitCount: n.HitCount,
		})
	}

	return ct
}

// Empty reports whether the call tree has no samples.
func (c *CallTree) Empty() bool {
	return c == nil || len(c.Samples) == 0
}
