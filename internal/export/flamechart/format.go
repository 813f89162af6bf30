// Package flamechart exports profiles as a multi-track flame chart in the
// speedscope file format.
//
// See https://github.com/jlfwong/speedscope/blob/main/src/lib/file-format-spec.ts
package flamechart

import "encoding/json"

// Schema is the value of the $schema field of every exported file.
const Schema = "https://www.speedscope.app/file-format-schema.json"

// UnitMicroseconds is the value unit of every track.
const UnitMicroseconds = "microseconds"

// TrackType distinguishes sampled from evented tracks.
type TrackType string

// Track types.
const (
	TrackSampled TrackType = "sampled"
	TrackEvented TrackType = "evented"
)

// EventType is the kind of an evented-track event.
type EventType string

// Event types.
const (
	EventOpen  EventType = "O"
	EventClose EventType = "C"
)

// File is the exported flame chart.
type File struct {
	Schema             string  `json:"$schema"`
	Shared             Shared  `json:"shared"`
	Profiles           []Track `json:"profiles"`
	Name               string  `json:"name"`
	ActiveProfileIndex int     `json:"activeProfileIndex"`
	Exporter           string  `json:"exporter,omitempty"`
}

// Shared holds the frame table referenced by all tracks.
type Shared struct {
	Frames []Frame `json:"frames"`
}

// Frame is an entry of the shared frame table.
type Frame struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// Track is one context's lane. Sampled tracks use Samples and Weights,
// evented tracks use Events.
type Track struct {
	Type       TrackType
	Name       string
	Unit       string
	StartValue int64
	EndValue   int64

	// Samples are stacks of frame indexes, outermost first.
	Samples [][]int
	Weights []int64

	Events []Event
}

// Event opens or closes a frame at a point in time.
type Event struct {
	Type  EventType `json:"type"`
	At    int64     `json:"at"`
	Frame int       `json:"frame"`
}

type trackHeader struct {
	Type       TrackType `json:"type"`
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	StartValue int64     `json:"startValue"`
	EndValue   int64     `json:"endValue"`
}

// MarshalJSON writes only the fields that belong to the track type, always
// as arrays.
func (t Track) MarshalJSON() ([]byte, error) {
	header := trackHeader{Type: t.Type, Name: t.Name, Unit: t.Unit, StartValue: t.StartValue, EndValue: t.EndValue}

	if t.Type == TrackEvented {
		events := t.Events
		if events == nil {
			events = []Event{}
		}
		return json.Marshal(struct {
			trackHeader
			Events []Event `json:"events"`
		}{header, events})
	}

	samples, weights := t.Samples, t.Weights
	if samples == nil {
		samples = [][]int{}
	}
	if weights == nil {
		weights = []int64{}
	}
	return json.Marshal(struct {
		trackHeader
		Samples [][]int `json:"samples"`
		Weights []int64 `json:"weights"`
	}{header, samples, weights})
}

// UnmarshalJSON reads a track written by MarshalJSON.
func (t *Track) UnmarshalJSON(data []byte) error {
	var aux struct {
		trackHeader
		Samples [][]int `json:"samples"`
		Weights []int64 `json:"weights"`
		Events  []Event `json:"events"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Track{
		Type:       aux.Type,
		Name:       aux.Name,
		Unit:       aux.Unit,
		StartValue: aux.StartValue,
		EndValue:   aux.EndValue,
		Samples:    aux.Samples,
		Weights:    aux.Weights,
		Events:     aux.Events,
	}
	return nil
}
