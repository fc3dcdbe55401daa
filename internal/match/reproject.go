package match

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// Reprojection holds the pixel error of a stored rod's endpoints in both
// cameras, indexed by [camera][endpoint]. Missing observations are NaN.
type Reprojection struct {
	Color    string
	Frame    int
	Particle int
	Err      [2][2]float64
}

// Mean returns the mean over the finite entries, or NaN if there are none.
func (r Reprojection) Mean() float64 {
	var sum float64
	n := 0
	for c := 0; c < 2; c++ {
		for e := 0; e < 2; e++ {
			if v := r.Err[c][e]; !math.IsNaN(v) {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// ReprojectTable projects every stored 3D rod back into both cameras and
// compares it with the stored 2D endpoints. World coordinates are mapped back
// into the camera-1 frame with the inverse of world.
func ReprojectTable(t *rods.Table, calib *stereo.Calibration, world stereo.WorldTransform) []Reprojection {
	rows := t.Rows()
	out := make([]Reprojection, 0, len(rows))
	for _, r := range rows {
		rec := Reprojection{Color: r.Color, Frame: r.Frame, Particle: r.Particle}
		pts := [2]r3.Vector{world.Inverse(r.P1), world.Inverse(r.P2)}
		for c := 0; c < 2; c++ {
			valid := r.Cam[c].IsValid() && r.Has3D()
			for e := 0; e < 2; e++ {
				if !valid {
					rec.Err[c][e] = math.NaN()
					continue
				}
				rec.Err[c][e] = stereo.ReprojectionError(r.Cam[c][e], calib.ProjectTo(c, pts[e]))
			}
		}
		out = append(out, rec)
	}
	return out
}
