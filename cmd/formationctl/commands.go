package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"formation-stage/internal/playback"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	var (
		file    string
		query   string
		dancers int
		at      float64
		stage   = playback.DefaultStage()
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the formation shown at a point in time",
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := playback.ReadLibrary(file)
			if err != nil {
				return err
			}
			track, err := playback.NewFileSource(lib).Fetch(context.Background(), playback.Query{Query: query, NumDancers: dancers})
			if err != nil {
				return err
			}

			f := playback.Resolve(track.Positions, at)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s - %s @ %s\n", track.Song, track.Artist, playback.FormatTimestamp(at))
			fmt.Fprint(out, renderGrid(f))

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(playback.Placements(f, stage))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "formations.yaml", "formation library file")
	cmd.Flags().StringVarP(&query, "query", "q", "", "song query")
	cmd.Flags().IntVarP(&dancers, "dancers", "n", 1, "number of dancers")
	cmd.Flags().Float64Var(&at, "at", 0, "playback time in seconds")
	cmd.Flags().IntVar(&stage.Width, "stage-width", stage.Width, "stage grid width")
	cmd.Flags().IntVar(&stage.Depth, "stage-depth", stage.Depth, "stage grid depth")
	cmd.Flags().Float64Var(&stage.CellSize, "cell-size", stage.CellSize, "world units per grid cell")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newSeekCmd() *cobra.Command {
	var at, delta, duration float64

	cmd := &cobra.Command{
		Use:   "seek",
		Short: "Clamp a seek (or a relative jump with --delta) to the media duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := playback.Advance(at, delta, duration)
			fmt.Fprintf(cmd.OutOrStdout(), "%g (%s / %s)\n", t, playback.FormatTimestamp(t), playback.FormatTimestamp(duration))
			return nil
		},
	}

	cmd.Flags().Float64Var(&at, "at", 0, "requested time in seconds")
	cmd.Flags().Float64Var(&delta, "delta", 0, "relative jump in seconds")
	cmd.Flags().Float64Var(&duration, "duration", 0, "media duration in seconds")
	return cmd
}

func newImportCmd() *cobra.Command {
	var in, out string
	var entry playback.LibraryTrack

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add extractor JSON output to a formation library",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			var seq playback.Sequence
			if err := json.Unmarshal(data, &seq); err != nil {
				return fmt.Errorf("decode %s: %w", in, err)
			}

			lib, err := playback.ReadLibrary(out)
			if errors.Is(err, fs.ErrNotExist) {
				lib = &playback.Library{}
			} else if err != nil {
				return err
			}

			for _, s := range seq {
				entry.Positions = append(entry.Positions, playback.LibrarySample{
					Timestamp:      s.Timestamp,
					PositionMatrix: s.Formation,
				})
			}
			lib.Tracks = replaceTrack(lib.Tracks, entry)

			if err := playback.WriteLibrary(lib, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d samples for %q into %s\n", len(seq), entry.Query, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in, "in", "i", "", "extractor output (JSON)")
	cmd.Flags().StringVarP(&out, "out", "o", "formations.yaml", "formation library file")
	cmd.Flags().StringVarP(&entry.Query, "query", "q", "", "query the track answers")
	cmd.Flags().IntVarP(&entry.NumDancers, "dancers", "n", 0, "dancer count (0 matches any)")
	cmd.Flags().StringVar(&entry.Song, "song", "", "song title")
	cmd.Flags().StringVar(&entry.Artist, "artist", "", "artist")
	cmd.Flags().StringVar(&entry.VideoURL, "video-url", "", "video URL")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// replaceTrack swaps out an existing entry for the same query and dancer
// count, or appends.
func replaceTrack(tracks []playback.LibraryTrack, lt playback.LibraryTrack) []playback.LibraryTrack {
	for i, t := range tracks {
		if strings.EqualFold(t.Query, lt.Query) && t.NumDancers == lt.NumDancers {
			tracks[i] = lt
			return tracks
		}
	}
	return append(tracks, lt)
}

func renderGrid(f playback.Formation) string {
	var b strings.Builder
	for _, row := range f {
		for i, cell := range row {
			if i > 0 {
				b.WriteByte(' ')
			}
			if cell == playback.EmptySlot {
				b.WriteString(" .")
			} else {
				fmt.Fprintf(&b, "%2d", cell)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
