package match

import (
	"runtime"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// Config holds the matcher's tuning.
type Config struct {
	Undistort stereo.UndistortOptions
	// RejectBehindCamera forbids correspondences that triangulate behind
	// either camera.
	RejectBehindCamera bool
	// MaxReprojectionError forbids pairs whose cost exceeds it; 0 disables
	// the gate.
	MaxReprojectionError float64
	// Workers bounds the number of frames Batch processes concurrently.
	Workers int
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		Undistort: stereo.UndistortOptions{
			MaxIterations: stereo.DefaultUndistortMaxIterations,
			Epsilon:       stereo.DefaultUndistortEpsilon,
		},
		RejectBehindCamera: true,
		Workers:            runtime.NumCPU(),
	}
}

// ConfigFromTuning builds a matcher Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Undistort: stereo.UndistortOptions{
			MaxIterations: cfg.GetUndistortMaxIterations(),
			Epsilon:       cfg.GetUndistortEpsilon(),
		},
		RejectBehindCamera:   cfg.GetRejectBehindCamera(),
		MaxReprojectionError: cfg.GetMaxReprojectionError(),
		Workers:              cfg.GetWorkers(),
	}
}
