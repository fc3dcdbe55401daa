package track

import (
	"runtime"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/match"
)

// Config holds the tracking passes' tuning.
type Config struct {
	Match match.Config
	// MaxDisplacement forbids frame-to-frame pairings whose summed endpoint
	// displacement exceeds it; 0 disables the gate.
	MaxDisplacement float64
	// Workers bounds the concurrent transition solves of AssignGlobal.
	Workers int
}

// DefaultConfig returns the tracking defaults.
func DefaultConfig() Config {
	return Config{
		Match:   match.DefaultConfig(),
		Workers: runtime.NumCPU(),
	}
}

// ConfigFromTuning builds a tracking Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		Match:           match.ConfigFromTuning(cfg),
		MaxDisplacement: cfg.GetMaxDisplacement(),
		Workers:         cfg.GetWorkers(),
	}
}
