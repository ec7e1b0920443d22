package playback

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownEvent is returned for an input event with no binding.
var ErrUnknownEvent = errors.New("unknown input event")

// DefaultSkipSeconds is the keyboard seek step.
const DefaultSkipSeconds = 5.0

// EventKind names a discrete input event from the presentation layer.
type EventKind string

const (
	EventKey            EventKind = "key"
	EventScrubClick     EventKind = "scrub_click"
	EventScrubDrag      EventKind = "scrub_drag"
	EventSeek           EventKind = "seek"
	EventTimeUpdate     EventKind = "time_update"
	EventMetadataLoaded EventKind = "metadata_loaded"
	EventPlayToggle     EventKind = "play_toggle"
	EventCameraToggle   EventKind = "camera_toggle"
)

// Event is an input event. Only the fields relevant to Kind are read:
// Key for key events, Fraction for scrubber events, Time for seek and
// time_update, Duration for metadata_loaded.
type Event struct {
	Kind     EventKind `json:"kind"`
	Key      string    `json:"key,omitempty"`
	Fraction float64   `json:"fraction,omitempty"`
	Time     float64   `json:"time,omitempty"`
	Duration float64   `json:"duration,omitempty"`
}

// Seek moves the clock to t, clamped to the media duration.
func (s *Session) Seek(t float64) float64 {
	s.Clock = Seek(t, s.Duration)
	return s.Clock
}

// Advance moves the clock by delta, clamped to the media duration.
func (s *Session) Advance(delta float64) float64 {
	s.Clock = Advance(s.Clock, delta, s.Duration)
	return s.Clock
}

// SetDuration records the media duration and pulls the clock back inside it.
func (s *Session) SetDuration(d float64) {
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		d = 0
	}
	s.Duration = d
	s.Clock = Seek(s.Clock, d)
}

// SetTime applies a playback position reported by the media element.
func (s *Session) SetTime(t float64) {
	s.Clock = Seek(t, s.Duration)
}

// TogglePlay flips play/pause.
func (s *Session) TogglePlay() bool {
	s.Playing = !s.Playing
	return s.Playing
}

// ToggleCamera flips between perspective and orthographic views.
func (s *Session) ToggleCamera() CameraMode {
	if s.Camera == Perspective {
		s.Camera = Orthographic
	} else {
		s.Camera = Perspective
	}
	return s.Camera
}

// Dispatcher maps input events onto session operations.
type Dispatcher struct {
	skip     float64
	handlers map[EventKind]func(*Session, Event) error
	keys     map[string]func(*Session)
}

// NewDispatcher returns a Dispatcher whose arrow keys jump by skip seconds.
// If skip <= 0, DefaultSkipSeconds is used.
func NewDispatcher(skip float64) *Dispatcher {
	if skip <= 0 {
		skip = DefaultSkipSeconds
	}
	d := &Dispatcher{skip: skip}
	d.keys = map[string]func(*Session){
		"ArrowLeft":  func(s *Session) { s.Advance(-d.skip) },
		"ArrowRight": func(s *Session) { s.Advance(d.skip) },
		" ":          func(s *Session) { s.TogglePlay() },
		"k":          func(s *Session) { s.TogglePlay() },
		"c":          func(s *Session) { s.ToggleCamera() },
	}
	d.handlers = map[EventKind]func(*Session, Event) error{
		EventKey:            d.key,
		EventScrubClick:     scrub,
		EventScrubDrag:      scrub,
		EventSeek:           func(s *Session, e Event) error { s.Seek(e.Time); return nil },
		EventTimeUpdate:     func(s *Session, e Event) error { s.SetTime(e.Time); return nil },
		EventMetadataLoaded: func(s *Session, e Event) error { s.SetDuration(e.Duration); return nil },
		EventPlayToggle:     func(s *Session, _ Event) error { s.TogglePlay(); return nil },
		EventCameraToggle:   func(s *Session, _ Event) error { s.ToggleCamera(); return nil },
	}
	return d
}

// Dispatch applies e to s. Unknown event kinds and unbound keys return
// ErrUnknownEvent and leave s untouched.
func (d *Dispatcher) Dispatch(s *Session, e Event) error {
	h, ok := d.handlers[e.Kind]
	if !ok {
		return fmt.Errorf("%w: kind %q", ErrUnknownEvent, e.Kind)
	}
	return h(s, e)
}

func (d *Dispatcher) key(s *Session, e Event) error {
	fn, ok := d.keys[e.Key]
	if !ok {
		return fmt.Errorf("%w: key %q", ErrUnknownEvent, e.Key)
	}
	fn(s)
	return nil
}

// scrub seeks to a fraction of the scrubber width.
func scrub(s *Session, e Event) error {
	f := math.Min(1, math.Max(e.Fraction, 0))
	s.Seek(f * s.Duration)
	return nil
}

// Frame is everything the presentation layer needs to draw one redraw.
type Frame struct {
	SessionID  SessionID   `json:"session_id"`
	Time       float64     `json:"time"`
	Duration   float64     `json:"duration"`
	Label      string      `json:"label"`
	Progress   float64     `json:"progress"`
	Camera     CameraMode  `json:"camera"`
	Playing    bool        `json:"playing"`
	Generation uint64      `json:"generation"`
	Loading    bool        `json:"loading"`
	LoadError  string      `json:"load_error,omitempty"`
	Song       string      `json:"song,omitempty"`
	Artist     string      `json:"artist,omitempty"`
	VideoURL   string      `json:"video_url,omitempty"`
	Formation  Formation   `json:"formation"`
	Placements []Placement `json:"placements"`
}

// Frame resolves the formation at the current clock and lays it out on st.
func (s *Session) Frame(st Stage) Frame {
	f := Resolve(s.Track.Positions, s.Clock)
	if f == nil {
		f = EmptyFormation()
	}
	return Frame{
		SessionID:  s.ID,
		Time:       s.Clock,
		Duration:   s.Duration,
		Label:      FormatTimestamp(s.Clock) + " / " + FormatTimestamp(s.Duration),
		Progress:   Progress(s.Clock, s.Duration),
		Camera:     s.Camera,
		Playing:    s.Playing,
		Generation: s.Generation,
		Loading:    s.Loading,
		LoadError:  s.LoadError,
		Song:       s.Track.Song,
		Artist:     s.Track.Artist,
		VideoURL:   s.Track.VideoURL,
		Formation:  f,
		Placements: Placements(f, st),
	}
}
