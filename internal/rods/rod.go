// Package rods holds the rod data model shared by matching and tracking: the
// per-camera endpoint observations, reconstructed 3D rods and the per-run
// table they are collected in.
package rods

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// MissingCoordinate is written to 2D columns of imputed rows.
const MissingCoordinate = -1

// EndpointPair is a rod's two image endpoints as seen by one camera. The
// order carries no meaning until matching has oriented it.
type EndpointPair [2]r2.Point

// Swapped returns the pair with its endpoint labels exchanged.
func (p EndpointPair) Swapped() EndpointPair {
	return EndpointPair{p[1], p[0]}
}

// IsValid reports whether the pair holds a real detection. Rows whose four
// coordinates are all zero, all NaN or all equal to the imputation sentinel
// are placeholders.
func (p EndpointPair) IsValid() bool {
	vals := [4]float64{p[0].X, p[0].Y, p[1].X, p[1].Y}
	allZero, allNaN, allMissing := true, true, true
	for _, v := range vals {
		if v != 0 {
			allZero = false
		}
		if !math.IsNaN(v) {
			allNaN = false
		}
		if v != MissingCoordinate {
			allMissing = false
		}
	}
	return !allZero && !allNaN && !allMissing
}

// MissingPair is the placeholder written for undetected rods.
func MissingPair() EndpointPair {
	m := r2.Point{X: MissingCoordinate, Y: MissingCoordinate}
	return EndpointPair{m, m}
}

func nanVector() r3.Vector {
	return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}

// Rod is one rod in one frame: its 3D endpoints in the world frame and the
// 2D observations they were reconstructed from.
type Rod struct {
	Particle int
	Color    string
	Frame    int

	// P1 and P2 are the world-frame endpoints. P1 corresponds to Cam[c][0].
	P1, P2 r3.Vector

	// Cam holds the 2D endpoints per camera, oriented consistently with
	// P1/P2 once the rod has been matched.
	Cam  [2]EndpointPair
	Seen [2]bool

	// Cost is the mean reprojection error of the rod's correspondence; NaN
	// when unknown.
	Cost float64
}

// Center returns the midpoint of the rod.
func (r Rod) Center() r3.Vector {
	return r.P1.Add(r.P2).Mul(0.5)
}

// Length returns the Euclidean distance between the endpoints.
func (r Rod) Length() float64 {
	return r.P1.Distance(r.P2)
}

// Has3D reports whether both endpoints are finite.
func (r Rod) Has3D() bool {
	return finite(r.P1) && finite(r.P2)
}

func finite(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// SwapEndpoints exchanges the endpoint labels of the 3D points and of both
// cameras' 2D points together, so their correspondence is preserved.
func (r *Rod) SwapEndpoints() {
	r.P1, r.P2 = r.P2, r.P1
	r.Cam[0] = r.Cam[0].Swapped()
	r.Cam[1] = r.Cam[1].Swapped()
}

// Displacement returns the summed endpoint distance between r and prev,
// both for the current labelling and with r's endpoints swapped.
func (r Rod) Displacement(prev Rod) (straight, swapped float64) {
	straight = r.P1.Distance(prev.P1) + r.P2.Distance(prev.P2)
	swapped = r.P2.Distance(prev.P1) + r.P1.Distance(prev.P2)
	return straight, swapped
}

// Placeholder returns an imputed rod: NaN 3D, sentinel 2D, not seen.
func Placeholder(color string, frame, particle int) Rod {
	return Rod{
		Particle: particle,
		Color:    color,
		Frame:    frame,
		P1:       nanVector(),
		P2:       nanVector(),
		Cam:      [2]EndpointPair{MissingPair(), MissingPair()},
		Cost:     math.NaN(),
	}
}
