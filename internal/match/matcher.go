// Package match pairs the rods seen by two calibrated cameras in a frame and
// reconstructs them in 3D.
//
// For each candidate pair the four endpoint correspondences are triangulated
// and reprojected. The pair cost is the cheaper of the two consistent
// orientations (straight: endpoint a with a; crossed: a with the other b), and
// the frame's pairs are chosen by a rectangular optimal assignment.
package match

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/rodtracker/internal/assign"
	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// Mode selects how MatchFrame pairs rows across cameras.
type Mode int

const (
	// Free solves the full cam1 × cam2 assignment and numbers particles in
	// assignment order.
	Free Mode = iota
	// Fixed trusts the rows' particle IDs as the pairing and only resolves
	// the endpoint orientation.
	Fixed
)

func (m Mode) String() string {
	switch m {
	case Free:
		return "free"
	case Fixed:
		return "fixed"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Pair is a known cam1/cam2 pairing for one particle.
type Pair struct {
	Particle int
	Cam1     rods.EndpointPair
	Cam2     rods.EndpointPair
}

// FrameResult is the outcome of matching one frame.
type FrameResult struct {
	Color string
	Frame int
	Rods  []rods.Rod
	// Costs and Lengths are parallel to Rods.
	Costs   []float64
	Lengths []float64
	// Pairs holds the resolved pairing with the cameras' endpoints as
	// observed, parallel to Rods.
	Pairs []Pair
	Stats Stats
	// Err records a non-fatal per-frame failure.
	Err error
}

// Matcher reconstructs rods for one calibrated rig. It is safe for
// concurrent use.
type Matcher struct {
	calib *stereo.Calibration
	world stereo.WorldTransform
	cfg   Config
}

// NewMatcher creates a Matcher.
func NewMatcher(calib *stereo.Calibration, world stereo.WorldTransform, cfg Config) *Matcher {
	return &Matcher{calib: calib, world: world, cfg: cfg}
}

// Config returns the matcher's configuration.
func (m *Matcher) Config() Config { return m.cfg }

// correspondence holds the four endpoint hypotheses of a candidate pair,
// indexed by (cam1 endpoint a, cam2 endpoint b).
type correspondence struct {
	point [2][2]r3.Vector
	err   [2][2]float64
	ok    [2][2]bool
}

// straight is the cost of pairing endpoint 0 with 0 and 1 with 1.
func straight(e [2][2]float64) float64 { return e[0][0] + e[1][1] }

// crossed is the cost of pairing endpoint 0 with 1 and 1 with 0.
func crossed(e [2][2]float64) float64 { return e[0][1] + e[1][0] }

// orientationCosts returns the straight and crossed costs; an orientation
// containing a degenerate hypothesis costs +Inf.
func (c *correspondence) orientationCosts() (float64, float64) {
	s, x := straight(c.err), crossed(c.err)
	if !c.ok[0][0] || !c.ok[1][1] {
		s = math.Inf(1)
	}
	if !c.ok[0][1] || !c.ok[1][0] {
		x = math.Inf(1)
	}
	return s, x
}

// best returns the pair cost and whether the crossed orientation won. Ties
// go to straight.
func (c *correspondence) best() (float64, bool) {
	s, x := c.orientationCosts()
	if x < s {
		return x, true
	}
	return s, false
}

// undistorted is a candidate's raw and undistorted endpoints.
type undistorted struct {
	raw   rods.EndpointPair
	ideal [2]r2.Point
}

func (m *Matcher) undistort(cam int, pairs []rods.EndpointPair) []undistorted {
	flat := make([]r2.Point, 0, 2*len(pairs))
	for _, p := range pairs {
		flat = append(flat, p[0], p[1])
	}
	ideal := m.calib.UndistortCamera(cam, flat, m.cfg.Undistort)
	out := make([]undistorted, len(pairs))
	for i, p := range pairs {
		out[i] = undistorted{raw: p, ideal: [2]r2.Point{ideal[2*i], ideal[2*i+1]}}
	}
	return out
}

// evaluate triangulates and reprojects the four endpoint hypotheses.
func (m *Matcher) evaluate(c1, c2 undistorted) correspondence {
	var c correspondence
	p1, p2 := m.calib.P1(), m.calib.P2()
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			x, err := stereo.Triangulate(c1.ideal[a], c2.ideal[b], p1, p2)
			if err != nil {
				continue
			}
			if m.cfg.RejectBehindCamera && !m.calib.InFront(x) {
				continue
			}
			e1 := stereo.ReprojectionError(c1.raw[a], m.calib.ProjectTo(0, x))
			e2 := stereo.ReprojectionError(c2.raw[b], m.calib.ProjectTo(1, x))
			e := (e1 + e2) / 2
			if math.IsNaN(e) || math.IsInf(e, 0) {
				continue
			}
			c.point[a][b] = x
			c.err[a][b] = e
			c.ok[a][b] = true
		}
	}
	return c
}

// buildRod turns a resolved correspondence into a rod. cam1 is kept as
// observed; cam2's endpoint labels follow the winning orientation.
func (m *Matcher) buildRod(c correspondence, cam1, cam2 rods.EndpointPair, particle int) (rods.Rod, float64) {
	cost, isCrossed := c.best()
	r := rods.Rod{
		Particle: particle,
		Seen:     [2]bool{true, true},
		Cost:     cost,
	}
	if isCrossed {
		r.P1, r.P2 = c.point[0][1], c.point[1][0]
		r.Cam = [2]rods.EndpointPair{cam1, cam2.Swapped()}
	} else {
		r.P1, r.P2 = c.point[0][0], c.point[1][1]
		r.Cam = [2]rods.EndpointPair{cam1, cam2}
	}
	r.P1 = m.world.Apply(r.P1)
	r.P2 = m.world.Apply(r.P2)
	return r, cost
}

func (m *Matcher) gated(cost float64) bool {
	return m.cfg.MaxReprojectionError > 0 && cost > m.cfg.MaxReprojectionError
}

// MatchFree pairs the candidates of both cameras by optimal assignment.
// Particles are numbered 0..n-1 in assignment order (ascending cam1 index).
// An empty camera yields an empty result classified as stereo.ErrEmptyFrame;
// a frame without any permitted pair yields stereo.ErrAssignmentInfeasible.
func (m *Matcher) MatchFree(cam1, cam2 []rods.EndpointPair) (FrameResult, error) {
	res := FrameResult{Stats: Stats{Cam1Candidates: len(cam1), Cam2Candidates: len(cam2)}}
	if len(cam1) == 0 || len(cam2) == 0 {
		res.Stats.Unpaired = len(cam1) + len(cam2)
		return res, fmt.Errorf("%w: %d camera-1 and %d camera-2 candidates", stereo.ErrEmptyFrame, len(cam1), len(cam2))
	}

	u1 := m.undistort(0, cam1)
	u2 := m.undistort(1, cam2)

	corr := make([][]correspondence, len(cam1))
	cost := make([][]float64, len(cam1))
	permitted := 0
	for i := range u1 {
		corr[i] = make([]correspondence, len(cam2))
		cost[i] = make([]float64, len(cam2))
		for j := range u2 {
			c := m.evaluate(u1[i], u2[j])
			corr[i][j] = c
			pc, _ := c.best()
			switch {
			case math.IsInf(pc, 1):
				res.Stats.Degenerate++
				cost[i][j] = math.Inf(1)
			case m.gated(pc):
				res.Stats.Gated++
				cost[i][j] = math.Inf(1)
			default:
				cost[i][j] = pc
				permitted++
			}
		}
	}
	if permitted == 0 {
		res.Stats.Unpaired = len(cam1) + len(cam2)
		return res, fmt.Errorf("%w: no permitted pair among %d×%d candidates", stereo.ErrAssignmentInfeasible, len(cam1), len(cam2))
	}

	assignment, err := assign.Hungarian(cost)
	if err != nil {
		return res, err
	}
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		particle := len(res.Rods)
		rod, c := m.buildRod(corr[i][j], cam1[i], cam2[j], particle)
		res.append(rod, c, Pair{Particle: particle, Cam1: cam1[i], Cam2: cam2[j]})
	}
	res.Stats.Matched = len(res.Rods)
	res.Stats.Unpaired = len(cam1) + len(cam2) - 2*res.Stats.Matched
	res.Stats.Cost = Summarize(res.Costs)
	return res, nil
}

// MatchFixed reconstructs known pairs, resolving only each pair's endpoint
// orientation. Pairs whose correspondence is degenerate or gated are left
// out and counted. A particle occurring twice is stereo.ErrReshapeMismatch.
func (m *Matcher) MatchFixed(pairs []Pair) (FrameResult, error) {
	res := FrameResult{Stats: Stats{Cam1Candidates: len(pairs), Cam2Candidates: len(pairs)}}
	seen := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		if seen[p.Particle] {
			return res, fmt.Errorf("%w: particle %d occurs twice", stereo.ErrReshapeMismatch, p.Particle)
		}
		seen[p.Particle] = true
	}
	if len(pairs) == 0 {
		return res, fmt.Errorf("%w: no paired candidates", stereo.ErrEmptyFrame)
	}

	c1 := make([]rods.EndpointPair, len(pairs))
	c2 := make([]rods.EndpointPair, len(pairs))
	for i, p := range pairs {
		c1[i], c2[i] = p.Cam1, p.Cam2
	}
	u1 := m.undistort(0, c1)
	u2 := m.undistort(1, c2)

	for i, p := range pairs {
		c := m.evaluate(u1[i], u2[i])
		pc, _ := c.best()
		if math.IsInf(pc, 1) {
			res.Stats.Degenerate++
			stereo.Tracef("particle %d: degenerate correspondence", p.Particle)
			continue
		}
		if m.gated(pc) {
			res.Stats.Gated++
			continue
		}
		rod, cost := m.buildRod(c, p.Cam1, p.Cam2, p.Particle)
		res.append(rod, cost, p)
	}
	res.Stats.Matched = len(res.Rods)
	res.Stats.Cost = Summarize(res.Costs)
	return res, nil
}

func (r *FrameResult) append(rod rods.Rod, cost float64, p Pair) {
	r.Rods = append(r.Rods, rod)
	r.Costs = append(r.Costs, cost)
	r.Lengths = append(r.Lengths, rod.Length())
	r.Pairs = append(r.Pairs, p)
}

// MatchFrame is the tabular entry point. Rows whose camera coordinates are
// placeholders are filtered per camera. In Fixed mode rows are paired by
// particle; rows valid in only one camera are dropped in ascending particle
// order and counted in Stats.Unpaired.
func (m *Matcher) MatchFrame(rows []rods.Rod, frame int, color string, mode Mode) (FrameResult, error) {
	var (
		res FrameResult
		err error
	)
	switch mode {
	case Free:
		var cam1, cam2 []rods.EndpointPair
		for _, r := range rows {
			if r.Cam[0].IsValid() {
				cam1 = append(cam1, r.Cam[0])
			}
			if r.Cam[1].IsValid() {
				cam2 = append(cam2, r.Cam[1])
			}
		}
		res, err = m.MatchFree(cam1, cam2)
	case Fixed:
		pairs, unpaired, perr := FixedPairs(rows)
		if perr != nil {
			res, err = FrameResult{}, perr
			break
		}
		res, err = m.MatchFixed(pairs)
		res.Stats.Unpaired += unpaired
		res.Stats.Cam1Candidates, res.Stats.Cam2Candidates = 0, 0
		for _, r := range rows {
			if r.Cam[0].IsValid() {
				res.Stats.Cam1Candidates++
			}
			if r.Cam[1].IsValid() {
				res.Stats.Cam2Candidates++
			}
		}
	default:
		return FrameResult{Frame: frame, Color: color}, fmt.Errorf("match: unknown mode %v", mode)
	}

	res.Frame = frame
	res.Color = color
	for i := range res.Rods {
		res.Rods[i].Frame = frame
		res.Rods[i].Color = color
	}
	res.Err = err
	if err != nil {
		stereo.Opsf("frame %d color %q skipped: %v", frame, color, err)
	} else {
		stereo.Tracef("frame %d color %q: %d/%d×%d matched, cost mean %.3f max %.3f",
			frame, color, res.Stats.Matched, res.Stats.Cam1Candidates, res.Stats.Cam2Candidates,
			res.Stats.Cost.Mean, res.Stats.Cost.Max)
	}
	return res, err
}

// FixedPairs pairs rows by particle ID. Rows valid in only one camera are
// skipped and counted; a duplicate particle is stereo.ErrReshapeMismatch.
func FixedPairs(rows []rods.Rod) ([]Pair, int, error) {
	sorted := append([]rods.Rod(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Particle < sorted[j].Particle })

	var pairs []Pair
	unpaired := 0
	for i, r := range sorted {
		if i > 0 && sorted[i-1].Particle == r.Particle {
			return nil, 0, fmt.Errorf("%w: particle %d occurs twice", stereo.ErrReshapeMismatch, r.Particle)
		}
		v1, v2 := r.Cam[0].IsValid(), r.Cam[1].IsValid()
		switch {
		case v1 && v2:
			pairs = append(pairs, Pair{Particle: r.Particle, Cam1: r.Cam[0], Cam2: r.Cam[1]})
		case v1 || v2:
			unpaired++
		}
	}
	return pairs, unpaired, nil
}
