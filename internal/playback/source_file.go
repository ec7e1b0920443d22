package playback

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Library is an offline set of pre-extracted tracks, keyed by query.
type Library struct {
	Tracks []LibraryTrack `yaml:"tracks"`
}

// LibraryTrack is one entry of a Library file.
type LibraryTrack struct {
	Query      string          `yaml:"query"`
	NumDancers int             `yaml:"num_dancers"`
	Song       string          `yaml:"song"`
	Artist     string          `yaml:"artist"`
	VideoURL   string          `yaml:"video_url"`
	Positions  []LibrarySample `yaml:"positions"`
}

// LibrarySample mirrors the extractor's per-frame output.
type LibrarySample struct {
	Timestamp      float64 `yaml:"timestamp"`
	PositionMatrix [][]int `yaml:"position_matrix"`
}

// ReadLibrary reads a Library from a YAML (or JSON) file.
func ReadLibrary(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse library %s: %w", path, err)
	}
	return &lib, nil
}

// WriteLibrary writes lib to path as YAML.
func WriteLibrary(lib *Library, path string) error {
	data, err := yaml.Marshal(lib)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Track converts the entry to the wire Track, keeping sample order.
func (lt LibraryTrack) Track() Track {
	seq := make(Sequence, 0, len(lt.Positions))
	for _, p := range lt.Positions {
		seq = append(seq, Sample{Timestamp: p.Timestamp, Formation: Formation(p.PositionMatrix)})
	}
	return Track{Positions: seq, Song: lt.Song, Artist: lt.Artist, VideoURL: lt.VideoURL}
}

// FileSource serves queries from a Library loaded at startup.
type FileSource struct {
	lib *Library
}

// NewFileSource returns a FileSource backed by lib.
func NewFileSource(lib *Library) *FileSource {
	return &FileSource{lib: lib}
}

// Fetch implements DataSource.Fetch. Queries match case-insensitively; an
// entry with a num_dancers of 0 matches any dancer count.
func (f *FileSource) Fetch(ctx context.Context, q Query) (Track, error) {
	if err := q.Validate(); err != nil {
		return Track{}, err
	}
	if err := ctx.Err(); err != nil {
		return Track{}, err
	}

	want := strings.TrimSpace(q.Query)
	for _, lt := range f.lib.Tracks {
		if !strings.EqualFold(strings.TrimSpace(lt.Query), want) {
			continue
		}
		if lt.NumDancers != 0 && lt.NumDancers != q.NumDancers {
			continue
		}
		return lt.Track(), nil
	}
	return Track{}, fmt.Errorf("%w: %q", ErrTrackNotFound, q.Query)
}
