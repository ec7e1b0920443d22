package playback

import (
	"fmt"
	"math"
)

// DancerHeight is the height of a dancer marker in stage units.
const DancerHeight = 3.5

// EmptyFormation returns the formation shown when there is nothing to resolve.
func EmptyFormation() Formation {
	return Formation{}
}

// EmptyFormationOf returns a rows x cols grid of empty slots.
func EmptyFormationOf(rows, cols int) Formation {
	if rows <= 0 || cols <= 0 {
		return EmptyFormation()
	}
	f := make(Formation, rows)
	for i := range f {
		f[i] = make([]int, cols)
	}
	return f
}

// Resolve returns the formation of the sample whose timestamp is nearest to t.
// The sequence is scanned in full and need not be sorted; on equal distance
// the sample that appears first wins. An empty sequence resolves to the empty
// formation.
func Resolve(seq Sequence, t float64) Formation {
	best := -1
	bestDist := math.Inf(1)
	for i, s := range seq {
		d := math.Abs(t - s.Timestamp)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return EmptyFormation()
	}
	return seq[best].Formation
}

// Seek clamps the requested time to [0, duration]. A negative duration is
// treated as unknown (0).
func Seek(requested, duration float64) float64 {
	if duration < 0 || math.IsNaN(duration) {
		duration = 0
	}
	if math.IsNaN(requested) {
		requested = 0
	}
	return math.Min(duration, math.Max(requested, 0))
}

// Advance moves current by delta and clamps the result like Seek.
func Advance(current, delta, duration float64) float64 {
	return Seek(current+delta, duration)
}

// Progress returns current as a percentage of duration, 0 when duration is unknown.
func Progress(current, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return current / duration * 100
}

// FormatTimestamp renders seconds as MM:SS. Whole hours are dropped from the
// minutes field.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	hours := math.Floor(seconds / 3600)
	minutes := math.Floor((seconds - hours*3600) / 60)
	secs := math.Floor(seconds - hours*3600 - minutes*60)
	return fmt.Sprintf("%02d:%02d", int(minutes), int(secs))
}

// Stage describes the floor grid a formation is laid out on.
type Stage struct {
	Width    int
	Depth    int
	CellSize float64
}

// Placement is one dancer of a formation positioned on the stage.
type Placement struct {
	Dancer   int        `json:"dancer"`
	Col      int        `json:"col"`
	Row      int        `json:"row"`
	Position [3]float64 `json:"position"`
}

// Placements flattens a formation row by row into the occupied cells and
// their world coordinates, centered on the stage origin.
func Placements(f Formation, st Stage) []Placement {
	out := make([]Placement, 0)
	for row, cells := range f {
		for col, dancer := range cells {
			if dancer == EmptySlot {
				continue
			}
			out = append(out, Placement{
				Dancer: dancer,
				Col:    col,
				Row:    row,
				Position: [3]float64{
					(float64(col) - float64(st.Width)/2) * st.CellSize,
					DancerHeight / 2,
					(float64(row) - float64(st.Depth)/2) * st.CellSize,
				},
			})
		}
	}
	return out
}
