package match

import (
	"github.com/golang/geo/r3"

	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// Observe projects a world-frame rod into both cameras, returning the
// endpoint pairs a detector would report with P1 first.
//
// NOTE: intended for building test fixtures in this and dependent packages.
func Observe(calib *stereo.Calibration, world stereo.WorldTransform, p1, p2 r3.Vector) (rods.EndpointPair, rods.EndpointPair) {
	c1, c2 := world.Inverse(p1), world.Inverse(p2)
	return rods.EndpointPair{calib.ProjectTo(0, c1), calib.ProjectTo(0, c2)},
		rods.EndpointPair{calib.ProjectTo(1, c1), calib.ProjectTo(1, c2)}
}

// ObservedRow builds an unmatched table row for a world-frame rod.
func ObservedRow(calib *stereo.Calibration, world stereo.WorldTransform, particle int, p1, p2 r3.Vector) rods.Rod {
	c1, c2 := Observe(calib, world, p1, p2)
	return rods.Rod{
		Particle: particle,
		Cam:      [2]rods.EndpointPair{c1, c2},
		Seen:     [2]bool{true, true},
	}
}
