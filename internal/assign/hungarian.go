// Package assign solves rectangular linear assignment problems.
//
// Hungarian implements the Kuhn–Munkres algorithm with row and column
// potentials (Jonker–Volgenant form) in O(d³) time, d = max(rows, cols).
// Entries that are +Inf, NaN or >= Forbidden may not be selected; rows that
// cannot be matched to a permitted column are reported as -1.
package assign

import (
	"errors"
	"fmt"
	"math"
)

// Forbidden is the smallest cost treated as "never assign". Any +Inf or NaN
// entry is also forbidden.
const Forbidden = 1e18

// ErrRaggedMatrix is returned when rows of the cost matrix differ in length.
var ErrRaggedMatrix = errors.New("assign: ragged cost matrix")

// IsForbidden reports whether c may not be selected.
func IsForbidden(c float64) bool {
	return math.IsNaN(c) || math.IsInf(c, 0) || c >= Forbidden
}

// Hungarian solves the rectangular assignment problem for an n×m cost matrix.
// It returns assignment[i] = column assigned to row i, or -1 when row i is
// left unmatched. The solution matches as many rows as the permitted entries
// allow and, among those, minimizes the summed cost.
func Hungarian(cost [][]float64) ([]int, error) {
	n := len(cost)
	if n == 0 {
		return nil, nil
	}
	m := len(cost[0])
	for i, row := range cost {
		if len(row) != m {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrRaggedMatrix, i, len(row), m)
		}
	}
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result, nil
	}

	dim := n
	if m > dim {
		dim = m
	}

	// A forbidden entry must cost more than any complete set of permitted
	// choices, so that a solution with fewer forbidden picks always wins.
	// Padded cells cost zero: they absorb surplus rows or columns.
	var maxAbs float64
	for _, row := range cost {
		for _, c := range row {
			if !IsForbidden(c) && math.Abs(c) > maxAbs {
				maxAbs = math.Abs(c)
			}
		}
	}
	big := 2*float64(dim)*maxAbs + 1

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			switch {
			case i >= n || j >= m:
				c[i][j] = 0
			case IsForbidden(cost[i][j]):
				c[i][j] = big
			default:
				c[i][j] = cost[i][j]
			}
		}
	}

	// 1-indexed arrays; column 0 is the virtual start of each augmenting path.
	const inf = math.MaxFloat64 / 2

	u := make([]float64, dim+1) // row potentials
	v := make([]float64, dim+1) // column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column on the path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	for j := 1; j <= m; j++ {
		row := p[j] - 1
		if row < 0 || row >= n || IsForbidden(cost[row][j-1]) {
			continue
		}
		result[row] = j - 1
	}
	return result, nil
}

// Total sums the cost of the assigned entries and counts them.
func Total(cost [][]float64, assignment []int) (float64, int) {
	var sum float64
	matched := 0
	for i, j := range assignment {
		if j < 0 {
			continue
		}
		sum += cost[i][j]
		matched++
	}
	return sum, matched
}
