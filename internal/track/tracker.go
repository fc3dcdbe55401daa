// Package track carries rod identities across frames.
//
// Tracker reconstructs a color frame by frame, re-identifying rods against the
// previous frame's 3D state. AssignGlobal and ReorderEndpoints are
// post-processing passes over rods that are already in 3D.
package track

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/rodtracker/internal/assign"
	"github.com/banshee-data/rodtracker/internal/match"
	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// State is the lifecycle state of a color's track.
type State string

const (
	Uninitialized State = "uninitialized" // No frame reconstructed yet
	Tracking      State = "tracking"      // A previous 3D state exists
)

// FrameDiagnostics describes one tracked frame.
type FrameDiagnostics struct {
	Frame int
	Match match.Stats
	// Inherited counts rods that took an ID from the previous state; Fresh
	// counts rods given a new ID.
	Inherited int
	Fresh     int
	// Swapped counts rods re-oriented against the previous state.
	Swapped int
	// TransitionCost is the summed displacement of the inherited rods.
	TransitionCost float64
	Err            error
}

// Result is the output of Track.
type Result struct {
	Color  string
	Rods   []rods.Rod
	Frames []FrameDiagnostics
	// Skipped counts frames dropped on error; Empty counts frames without
	// candidates in a camera.
	Skipped int
	Empty   int
	Cost    match.CostSummary
}

// Tracker re-identifies rods frame by frame for a single color. A Tracker
// is not safe for concurrent use.
type Tracker struct {
	matcher *match.Matcher
	cfg     Config

	state  State
	prev   []rods.Rod
	nextID int
}

// NewTracker creates a Tracker that reconstructs frames with m.
func NewTracker(m *match.Matcher, cfg Config) *Tracker {
	return &Tracker{matcher: m, cfg: cfg, state: Uninitialized}
}

// State returns the tracker's lifecycle state.
func (t *Tracker) State() State { return t.state }

// Reset drops the previous state.
func (t *Tracker) Reset() {
	t.state = Uninitialized
	t.prev = nil
	t.nextID = 0
}

// Track reconstructs the given frames of color from table, in order. A nil
// frames slice tracks every frame of the color.
//
// With renumber set each frame is matched freely and its rods are assigned
// to the previous frame's rods by displacement; matched rods inherit the
// previous IDs and the rest get fresh ones. Without renumber the rows'
// particle IDs are trusted as the pairing. Either way the final rods come
// from fixed-pairing matching and are oriented against the previous state.
//
// Frames that fail are recorded and leave the previous state untouched. On
// cancellation the frames finished so far are returned with ctx.Err().
func (t *Tracker) Track(ctx context.Context, table *rods.Table, color string, frames []int, renumber bool) (Result, error) {
	t.Reset()
	if frames == nil {
		frames = table.Frames(color)
	}
	res := Result{Color: color}
	var costs []float64

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			stereo.Opsf("tracking %q cancelled at frame %d", color, f)
			res.Cost = match.Summarize(costs)
			return res, err
		}

		diag, tracked := t.step(table.Frame(color, f), f, color, renumber)
		res.Frames = append(res.Frames, diag)
		switch {
		case diag.Err == nil:
		case errors.Is(diag.Err, stereo.ErrEmptyFrame):
			res.Empty++
			continue
		default:
			res.Skipped++
			stereo.Opsf("frame %d color %q not tracked: %v", f, color, diag.Err)
			continue
		}

		for _, r := range tracked {
			costs = append(costs, r.Cost)
		}
		res.Rods = append(res.Rods, tracked...)
		if len(tracked) > 0 {
			t.prev = tracked
			t.state = Tracking
		}
		stereo.Tracef("frame %d color %q: %d rods, %d inherited, %d fresh, %d swapped, displacement %.3f",
			f, color, len(tracked), diag.Inherited, diag.Fresh, diag.Swapped, diag.TransitionCost)
	}
	res.Cost = match.Summarize(costs)
	stereo.Diagf("tracked %q: %d frames, %d rods, %d skipped, %d empty, next id %d",
		color, len(res.Frames), len(res.Rods), res.Skipped, res.Empty, t.nextID)
	return res, nil
}

// step tracks one frame.
func (t *Tracker) step(rows []rods.Rod, frame int, color string, renumber bool) (FrameDiagnostics, []rods.Rod) {
	diag := FrameDiagnostics{Frame: frame}

	var fixed match.FrameResult
	if renumber {
		free, err := t.matcher.MatchFrame(rows, frame, color, match.Free)
		if err != nil {
			diag.Match, diag.Err = free.Stats, err
			return diag, nil
		}
		pairs, err := t.identify(free, &diag)
		if err != nil {
			diag.Match, diag.Err = free.Stats, err
			return diag, nil
		}
		fixed, err = t.matcher.MatchFixed(pairs)
		if err != nil {
			diag.Match, diag.Err = fixed.Stats, err
			return diag, nil
		}
		fixed.Stats.Unpaired = free.Stats.Unpaired
		fixed.Stats.Cam1Candidates = free.Stats.Cam1Candidates
		fixed.Stats.Cam2Candidates = free.Stats.Cam2Candidates
	} else {
		var err error
		fixed, err = t.matcher.MatchFrame(rows, frame, color, match.Fixed)
		if err != nil {
			diag.Match, diag.Err = fixed.Stats, err
			return diag, nil
		}
		for _, r := range fixed.Rods {
			if r.Particle >= t.nextID {
				t.nextID = r.Particle + 1
			}
		}
	}
	diag.Match = fixed.Stats

	out := fixed.Rods
	for i := range out {
		out[i].Frame = frame
		out[i].Color = color
	}
	if t.state == Tracking {
		diag.Swapped = orient(byParticle(t.prev), out)
	}
	return diag, out
}

// identify assigns particle IDs to the free-mode candidates of a frame.
func (t *Tracker) identify(free match.FrameResult, diag *FrameDiagnostics) ([]match.Pair, error) {
	pairs := make([]match.Pair, len(free.Pairs))
	copy(pairs, free.Pairs)

	if t.state == Uninitialized {
		for i := range pairs {
			pairs[i].Particle = i
		}
		t.nextID = len(pairs)
		diag.Fresh = len(pairs)
		return pairs, nil
	}

	cost, _ := costMatrix(t.prev, free.Rods, t.cfg.MaxDisplacement)
	assignment, err := assign.Hungarian(cost)
	if err != nil {
		return nil, fmt.Errorf("identity assignment: %w", err)
	}
	ids := make([]int, len(pairs))
	for j := range ids {
		ids[j] = -1
	}
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		ids[j] = t.prev[i].Particle
		diag.Inherited++
		diag.TransitionCost += cost[i][j]
	}
	for j := range ids {
		if ids[j] < 0 {
			ids[j] = t.nextID
			t.nextID++
			diag.Fresh++
		}
		pairs[j].Particle = ids[j]
	}
	return pairs, nil
}
