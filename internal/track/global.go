package track

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/rodtracker/internal/assign"
	"github.com/banshee-data/rodtracker/internal/rods"
	"github.com/banshee-data/rodtracker/internal/stereo"
)

// Transition is the assignment between two consecutive frames.
type Transition struct {
	From, To int
	// Cost is the summed displacement over the matched rods.
	Cost    float64
	Matched int
	// Feasible is false when no rod of To could be matched, e.g. because a
	// frame is empty or lacks 3D data.
	Feasible bool
}

// GlobalResult is the output of AssignGlobal.
type GlobalResult struct {
	Rods        []rods.Rod
	Transitions []Transition
	TotalCost   float64
}

type solution struct {
	assignment []int
	cost       [][]float64
	permitted  int
	done       bool
}

// AssignGlobal relabels the rods of a single color so that identities are
// consistent across the sequence. Each pair of consecutive frames is solved
// as an assignment minimizing summed endpoint displacement; rods of the later
// frame inherit the ID of the rod they are matched to and the rest get fresh
// IDs. Coordinates are never changed and IDs stay unique within a frame.
//
// The first frame keeps its IDs if they are unique and non-negative and is
// renumbered 0..n-1 otherwise. Transitions are solved concurrently by at
// most workers goroutines and applied in frame order. On cancellation the
// relabeled prefix of the sequence is returned with ctx.Err().
func AssignGlobal(ctx context.Context, in []rods.Rod, workers int) (GlobalResult, error) {
	frames, byFrame := rods.GroupByFrame(in)
	var res GlobalResult
	if len(frames) == 0 {
		return res, nil
	}

	sols := make([]solution, len(frames)-1)
	g, gctx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for k := range sols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cost, permitted := costMatrix(byFrame[frames[k]], byFrame[frames[k+1]], 0)
			s := solution{cost: cost, permitted: permitted}
			if permitted > 0 {
				a, err := assign.Hungarian(cost)
				if err != nil {
					return err
				}
				s.assignment = a
			}
			s.done = true
			sols[k] = s
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	first := byFrame[frames[0]]
	labels := initialLabels(first)
	nextID := 0
	for _, id := range labels {
		if id >= nextID {
			nextID = id + 1
		}
	}
	res.Rods = append(res.Rods, relabel(first, labels)...)

	for k, s := range sols {
		if !s.done {
			break
		}
		cur := byFrame[frames[k+1]]
		next := make([]int, len(cur))
		for j := range next {
			next[j] = -1
		}
		tr := Transition{From: frames[k], To: frames[k+1]}
		for i, j := range s.assignment {
			if j < 0 {
				continue
			}
			next[j] = labels[i]
			tr.Cost += s.cost[i][j]
			tr.Matched++
		}
		tr.Feasible = tr.Matched > 0
		for j := range next {
			if next[j] < 0 {
				next[j] = nextID
				nextID++
			}
		}
		if !tr.Feasible {
			stereo.Opsf("frames %d→%d: no feasible assignment, %d rods get fresh IDs", tr.From, tr.To, len(cur))
		}
		res.Transitions = append(res.Transitions, tr)
		res.TotalCost += tr.Cost
		res.Rods = append(res.Rods, relabel(cur, next)...)
		labels = next
	}

	stereo.Diagf("global assignment: %d frames, %d transitions, total displacement %.3f",
		len(frames), len(res.Transitions), res.TotalCost)
	return res, err
}

// initialLabels returns the first frame's IDs, renumbered 0..n-1 if they
// are not unique and non-negative.
func initialLabels(first []rods.Rod) []int {
	labels := make([]int, len(first))
	seen := make(map[int]bool, len(first))
	valid := true
	for i, r := range first {
		if r.Particle < 0 || seen[r.Particle] {
			valid = false
		}
		seen[r.Particle] = true
		labels[i] = r.Particle
	}
	if !valid {
		for i := range labels {
			labels[i] = i
		}
	}
	return labels
}

// relabel returns copies of rs carrying labels, ordered by particle.
func relabel(rs []rods.Rod, labels []int) []rods.Rod {
	out := make([]rods.Rod, len(rs))
	for i, r := range rs {
		r.Particle = labels[i]
		out[i] = r
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Particle < out[j].Particle })
	return out
}

// IdentityCost returns the summed displacement of the identity pairing: in
// each pair of consecutive frames the k-th rod of one frame, in input order,
// is paired with the k-th rod of the next, over the first min(n, m) rods.
// AssignGlobal's TotalCost never exceeds it when every identity pair has 3D
// data. Identity pairs lacking 3D data contribute nothing.
func IdentityCost(in []rods.Rod) float64 {
	frames, byFrame := rods.GroupByFrame(in)
	var total float64
	for k := 1; k < len(frames); k++ {
		prev, cur := byFrame[frames[k-1]], byFrame[frames[k]]
		for i := 0; i < len(prev) && i < len(cur); i++ {
			if d, _ := displacement(prev[i], cur[i]); !math.IsInf(d, 1) {
				total += d
			}
		}
	}
	return total
}
