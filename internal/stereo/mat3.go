package stereo

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Mat3 is a row-major 3×3 matrix. Fixed-size arrays keep the per-point hot
// paths allocation free; gonum is used where a factorisation is needed.
type Mat3 [3][3]float64

// Identity3 returns the 3×3 identity matrix.
func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m·v.
func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns m·o.
func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

// T returns the transpose of m.
func (m Mat3) T() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Dense returns m as a gonum matrix.
func (m Mat3) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
}

// Mat3FromDense copies the top-left 3×3 block of d.
func Mat3FromDense(d mat.Matrix) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = d.At(i, j)
		}
	}
	return out
}

// Det returns the determinant of m.
func (m Mat3) Det() float64 {
	return mat.Det(m.Dense())
}

// IsFinite reports whether every entry of m is finite.
func (m Mat3) IsFinite() bool {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(m[i][j]) || math.IsInf(m[i][j], 0) {
				return false
			}
		}
	}
	return true
}

// IsRotation reports whether m is a proper rotation: orthonormal within tol
// (max-abs entry of mᵀm − I) and det(m) = +1 within tol.
func (m Mat3) IsRotation(tol float64) bool {
	if !m.IsFinite() {
		return false
	}
	var gram mat.Dense
	d := m.Dense()
	gram.Mul(d.T(), d)
	var diff mat.Dense
	diff.Sub(&gram, Identity3().Dense())
	if mat.Norm(&diff, math.Inf(1)) > tol {
		return false
	}
	return math.Abs(m.Det()-1) <= tol
}

func isFiniteVec(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

// IsFinite reports whether all coordinates of v are finite.
func IsFinite(v r3.Vector) bool { return isFiniteVec(v) }
