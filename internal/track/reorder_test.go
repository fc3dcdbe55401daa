package track

import (
	"context"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rodtracker/internal/config"
	"github.com/banshee-data/rodtracker/internal/rods"
)

func TestReorderEndpoints(t *testing.T) {
	cam := func(x float64) [2]rods.EndpointPair {
		return [2]rods.EndpointPair{
			{r2.Point{X: x, Y: 1}, r2.Point{X: x + 10, Y: 1}},
			{r2.Point{X: x, Y: 2}, r2.Point{X: x + 10, Y: 2}},
		}
	}
	mk := func(frame, particle int, a, b r3.Vector, swapped bool) rods.Rod {
		r := rod3D(frame, particle, a, b)
		r.Cam = cam(float64(frame))
		if swapped {
			r.SwapEndpoints()
		}
		return r
	}
	a, b := r3.Vector{X: 0}, r3.Vector{X: 10}
	other1, other2 := r3.Vector{Y: 50}, r3.Vector{Y: 60}
	in := []rods.Rod{
		mk(0, 0, a, b, false),
		mk(0, 1, other1, other2, false),
		mk(1, 0, a.Add(r3.Vector{Z: 1}), b.Add(r3.Vector{Z: 1}), true),
		mk(1, 1, other1, other2, false),
		// Particle 0 skips frame 2 and reappears swapped in frame 3.
		mk(3, 0, a.Add(r3.Vector{Z: 2}), b.Add(r3.Vector{Z: 2}), true),
	}

	res, err := ReorderEndpoints(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Swapped)
	require.Len(t, res.Rods, 5)

	for _, r := range res.Rods {
		if r.Particle != 0 {
			continue
		}
		assert.Equal(t, 0.0, r.P1.X, "frame %d", r.Frame)
		assert.Equal(t, 10.0, r.P2.X, "frame %d", r.Frame)
		// 2D columns follow the 3D swap.
		assert.Equal(t, cam(float64(r.Frame)), r.Cam)
	}

	require.Len(t, res.Costs, 3)
	assert.Equal(t, ReorderCost{Particle: 0, Frame: 1, Cost: 2, Swapped: true}, res.Costs[0])
	assert.Equal(t, ReorderCost{Particle: 1, Frame: 1, Cost: 0, Swapped: false}, res.Costs[1])
	assert.Equal(t, ReorderCost{Particle: 0, Frame: 3, Cost: 2, Swapped: true}, res.Costs[2])

	// The input is not modified.
	assert.Equal(t, 10.0, in[2].P1.X)
}

func TestReorderEndpointsTieKeepsOrder(t *testing.T) {
	// A rod moving perpendicular through its own midpoint is equidistant
	// under both orders.
	in := []rods.Rod{
		rod3D(0, 0, r3.Vector{X: -1}, r3.Vector{X: 1}),
		rod3D(1, 0, r3.Vector{Y: -1}, r3.Vector{Y: 1}),
	}

	res, err := ReorderEndpoints(context.Background(), in)
	require.NoError(t, err)
	assert.Zero(t, res.Swapped)
	assert.Equal(t, r3.Vector{Y: -1}, res.Rods[1].P1)
}

func TestReorderEndpointsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReorderEndpoints(ctx, []rods.Rod{rod3D(0, 0, r3.Vector{}, r3.Vector{X: 1})})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigFromTuning(t *testing.T) {
	assert.Equal(t, DefaultConfig(), ConfigFromTuning(nil))

	disp, workers := 12.5, 2
	cfg := ConfigFromTuning(&config.TuningConfig{MaxDisplacement: &disp, Workers: &workers})
	assert.Equal(t, 12.5, cfg.MaxDisplacement)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 2, cfg.Match.Workers)
	assert.True(t, cfg.Match.RejectBehindCamera)
}
