package track

import (
	"math"

	"github.com/banshee-data/rodtracker/internal/rods"
)

// displacement returns the smaller summed endpoint displacement between prev
// and cur over both endpoint orders, and whether the swapped order won. Rods
// without finite 3D endpoints are infinitely far apart.
func displacement(prev, cur rods.Rod) (float64, bool) {
	if !prev.Has3D() || !cur.Has3D() {
		return math.Inf(1), false
	}
	s, x := cur.Displacement(prev)
	if x < s {
		return x, true
	}
	return s, false
}

// costMatrix builds the prev × cur displacement matrix. Entries above a
// positive maxDisp are forbidden.
func costMatrix(prev, cur []rods.Rod, maxDisp float64) ([][]float64, int) {
	cost := make([][]float64, len(prev))
	permitted := 0
	for i, p := range prev {
		cost[i] = make([]float64, len(cur))
		for j, c := range cur {
			d, _ := displacement(p, c)
			if maxDisp > 0 && d > maxDisp {
				d = math.Inf(1)
			}
			if !math.IsInf(d, 1) {
				permitted++
			}
			cost[i][j] = d
		}
	}
	return cost, permitted
}

// orient swaps the endpoints of each rod whose swapped order is strictly
// closer to the same particle's entry in prev. It returns the number of
// swaps.
func orient(prev map[int]rods.Rod, cur []rods.Rod) int {
	swaps := 0
	for i := range cur {
		p, ok := prev[cur[i].Particle]
		if !ok {
			continue
		}
		if _, swap := displacement(p, cur[i]); swap {
			cur[i].SwapEndpoints()
			swaps++
		}
	}
	return swaps
}

func byParticle(rs []rods.Rod) map[int]rods.Rod {
	m := make(map[int]rods.Rod, len(rs))
	for _, r := range rs {
		m[r.Particle] = r
	}
	return m
}
