package stereo

import (
	"math"

	"github.com/golang/geo/r3"
)

// RotationY returns the rotation by angle radians about the y axis.
func RotationY(angle float64) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat3{{c, 0, s}, {0, 1, 0}, {-s, 0, c}}
}

// RotationZ returns the rotation by angle radians about the z axis.
func RotationZ(angle float64) Mat3 {
	c, s := math.Cos(angle), math.Sin(angle)
	return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// SyntheticCalibration returns a converging two-camera rig with mild lens
// distortion, a 200 mm baseline and a 10° toe-in. Scenes placed around
// z = 1000 in the camera-1 frame are visible to both cameras.
//
// NOTE: intended for tests in this and dependent packages.
func SyntheticCalibration() *Calibration {
	c, err := NewCalibration(CalibrationParams{
		Camera1: Camera{
			Matrix:     Mat3{{800, 0, 640}, {0, 810, 360}, {0, 0, 1}},
			Distortion: []float64{-0.05, 0.01, 0.001, -0.0005, 0.002},
			ImageSize:  [2]int{1280, 720},
		},
		Camera2: Camera{
			Matrix:     Mat3{{790, 0, 630}, {0, 795, 350}, {0, 0, 1}},
			Distortion: []float64{-0.04, 0.008, -0.0008, 0.0004, 0, 0, 0, 0, 0.0001, 0, -0.0001, 0},
			ImageSize:  [2]int{1280, 720},
		},
		Rotation:    RotationY(-10 * math.Pi / 180),
		Translation: r3.Vector{X: -200, Y: 0, Z: 20},
	})
	if err != nil {
		panic(err)
	}
	return c
}
