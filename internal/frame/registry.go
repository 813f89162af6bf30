// Package frame deduplicates call-frame identities within one aggregation run.
package frame

import (
	"github.com/coral-mesh/perfmerge/internal/marker"
)

// Location is a position in source. The zero value is the wildcard location
// used when the producer did not report one.
type Location struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// Key is the identity of a frame. Two telemetry items with equal keys always
// resolve to the same frame within a registry.
type Key struct {
	ContextID    string
	FunctionName string
	File         string
	Line         int
	Col          int
}

// NewKey builds a key from its parts. Negative line or column values are
// treated as unknown.
func NewKey(contextID, functionName string, loc Location) Key {
	if loc.Line < 0 {
		loc.Line = 0
	}
	if loc.Col < 0 {
		loc.Col = 0
	}
	return Key{
		ContextID:    contextID,
		FunctionName: functionName,
		File:         loc.File,
		Line:         loc.Line,
		Col:          loc.Col,
	}
}

// Location returns the source location part of the key.
func (k Key) Location() Location {
	return Location{File: k.File, Line: k.Line, Col: k.Col}
}

// Frame is a deduplicated function identity.
type Frame struct {
	ID     int
	Key    Key
	Marker *marker.Marker
}

// Name returns the function name of the frame.
func (f Frame) Name() string {
	return f.Key.FunctionName
}

// Registry assigns dense ids, starting at zero, to frame keys in first-seen
// order. A registry is not safe for concurrent use; each aggregation call
// creates its own.
type Registry struct {
	ids    map[Key]int
	frames []Frame
}

// NewRegistry creates an empty frame registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[Key]int)}
}

// Intern returns the id for the key formed by its arguments, creating a frame
// on first sight. The marker of an existing frame is kept; a later non-nil
// marker only fills a frame that had none.
func (r *Registry) Intern(contextID, functionName string, loc Location, m *marker.Marker) int {
	return r.InternKey(NewKey(contextID, functionName, loc), m)
}

// InternKey is Intern for an already built key.
func (r *Registry) InternKey(key Key, m *marker.Marker) int {
	if id, ok := r.ids[key]; ok {
		if r.frames[id].Marker == nil && m != nil {
			r.frames[id].Marker = m
		}
		return id
	}

	id := len(r.frames)
	r.ids[key] = id
	r.frames = append(r.frames, Frame{ID: id, Key: key, Marker: m})
	return id
}

// Lookup returns the frame with the given id.
func (r *Registry) Lookup(id int) (Frame, bool) {
	if id < 0 || id >= len(r.frames) {
		return Frame{}, false
	}
	return r.frames[id], true
}

// Len returns the number of distinct frames.
func (r *Registry) Len() int {
	return len(r.frames)
}

// Frames returns all frames ordered by id.
func (r *Registry) Frames() []Frame {
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}
