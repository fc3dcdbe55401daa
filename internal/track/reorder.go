package track

import (
	"context"
	"sort"

	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// ReorderCost is the displacement of one rod from its particle's previous
// state after reordering.
type ReorderCost struct {
	Particle int
	Frame    int
	Cost     float64
	Swapped  bool
}

// ReorderResult is the output of ReorderEndpoints.
type ReorderResult struct {
	Rods    []rods.Rod
	Costs   []ReorderCost
	Swapped int
}

// ReorderEndpoints walks the frames of a single color in increasing order
// and swaps a rod's endpoints, in 3D and in both cameras, when the swapped
// order is strictly closer to the particle's previous state. The previous
// state is the particle's last reordered rod with 3D data, so gaps in a
// particle's history are bridged. IDs and points are never changed.
//
// On cancellation the frames processed so far are returned with ctx.Err().
func ReorderEndpoints(ctx context.Context, in []rods.Rod) (ReorderResult, error) {
	frames, byFrame := rods.GroupByFrame(in)
	var res ReorderResult
	last := make(map[int]rods.Rod)

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cur := byFrame[f]
		sort.SliceStable(cur, func(i, j int) bool { return cur[i].Particle < cur[j].Particle })
		for i := range cur {
			r := &cur[i]
			if !r.Has3D() {
				continue
			}
			if p, ok := last[r.Particle]; ok {
				cost, swap := displacement(p, *r)
				if swap {
					r.SwapEndpoints()
					res.Swapped++
				}
				res.Costs = append(res.Costs, ReorderCost{Particle: r.Particle, Frame: f, Cost: cost, Swapped: swap})
			}
			last[r.Particle] = *r
		}
		res.Rods = append(res.Rods, cur...)
	}
	stereo.Diagf("reorder: %d frames, %d rods, %d swapped", len(frames), len(res.Rods), res.Swapped)
	return res, nil
}
