package match

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/rodtracker/internal/config"
)

func TestConfigFromTuning(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromTuning(nil))

	iters, gate, workers, reject := 7, 2.5, 3, false
	cfg := ConfigFromTuning(&config.TuningConfig{
		UndistortMaxIterations: &iters,
		MaxReprojectionError:   &gate,
		Workers:                &workers,
		RejectBehindCamera:     &reject,
	})
	assert.Equal(t, 7, cfg.Undistort.MaxIterations)
	assert.Equal(t, 1e-12, cfg.Undistort.Epsilon)
	assert.Equal(t, 2.5, cfg.MaxReprojectionError)
	assert.Equal(t, 3, cfg.Workers)
	assert.False(t, cfg.RejectBehindCamera)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "free", Free.String())
	assert.Equal(t, "fixed", Fixed.String())
	assert.Equal(t, "Mode(5)", Mode(5).String())
}
