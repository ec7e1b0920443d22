package playback

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SessionID uniquely identifies a mounted stage view.
type SessionID string

// EmptySlot marks a stage-grid cell with no dancer on it.
const EmptySlot = 0

// Formation is a 2-D grid of stage cells. Each cell holds EmptySlot or a
// positive dancer identifier. Rows may be ragged.
type Formation [][]int

// Sample is a formation snapshot at a point on the performance timeline.
// On the wire it is the pair [timestamp, formation].
type Sample struct {
	Timestamp float64
	Formation Formation
}

// samplePayload is the object form emitted by the position extractor.
type samplePayload struct {
	Timestamp      float64   `json:"timestamp"`
	PositionMatrix Formation `json:"position_matrix"`
}

// MarshalJSON encodes the sample as [timestamp, formation].
func (s Sample) MarshalJSON() ([]byte, error) {
	f := s.Formation
	if f == nil {
		f = Formation{}
	}
	return json.Marshal([]any{s.Timestamp, f})
}

// UnmarshalJSON accepts either [timestamp, formation] or
// {"timestamp": t, "position_matrix": formation}.
func (s *Sample) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var p samplePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		s.Timestamp, s.Formation = p.Timestamp, p.PositionMatrix
		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("sample: expected [timestamp, formation], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.Timestamp); err != nil {
		return fmt.Errorf("sample timestamp: %w", err)
	}
	if err := json.Unmarshal(pair[1], &s.Formation); err != nil {
		return fmt.Errorf("sample formation: %w", err)
	}
	return nil
}

// Sequence is the ordered list of samples for one performance, in the order
// the data source returned them.
type Sequence []Sample

// Track is a data source response: the sequence plus song metadata.
type Track struct {
	Positions Sequence `json:"positions"`
	Song      string   `json:"song"`
	Artist    string   `json:"artist"`
	VideoURL  string   `json:"video_url"`
}

// Query is the data source request body.
type Query struct {
	Query      string `json:"query"`
	NumDancers int    `json:"num_dancers"`
}

// CameraMode selects the stage camera.
type CameraMode int

const (
	Perspective CameraMode = iota
	Orthographic
)

func (c CameraMode) String() string {
	if c == Orthographic {
		return "orthographic"
	}
	return "perspective"
}

// MarshalText encodes the mode by name.
func (c CameraMode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a mode name.
func (c *CameraMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "perspective":
		*c = Perspective
	case "orthographic":
		*c = Orthographic
	default:
		return fmt.Errorf("unknown camera mode %q", b)
	}
	return nil
}

// Session is the presentation controller for one mounted view. It owns the
// sequence, the playback clock and the two view toggles. Sessions are only
// mutated through the Repository, which serializes access.
type Session struct {
	ID         SessionID
	Track      Track
	Clock      float64
	Duration   float64
	Camera     CameraMode
	Playing    bool
	NumDancers int

	// Generation is bumped on every query; a response carrying an older
	// generation is discarded.
	Generation uint64
	Loading    bool
	LoadError  string
}
