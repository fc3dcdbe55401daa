package stereo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// WorldTransform is a rigid transform from camera-1 coordinates into the world
// frame: world = R·p + T.
type WorldTransform struct {
	rotation    Mat3
	translation r3.Vector
}

// IdentityTransform leaves points in the camera-1 frame.
func IdentityTransform() WorldTransform {
	return WorldTransform{rotation: Identity3()}
}

// NewWorldTransform validates r as a proper rotation within tol (tol <= 0 uses
// DefaultRotationTolerance). An invalid rotation is rejected, never
// re-orthogonalized.
func NewWorldTransform(r Mat3, t r3.Vector, tol float64) (WorldTransform, error) {
	if tol <= 0 {
		tol = DefaultRotationTolerance
	}
	if !r.IsRotation(tol) {
		return WorldTransform{}, configErrorf("world rotation", "not a proper rotation (det=%.6f)", r.Det())
	}
	if !isFiniteVec(t) {
		return WorldTransform{}, configErrorf("world translation", "contains non-finite values")
	}
	return WorldTransform{rotation: r, translation: t}, nil
}

// Rotation returns R.
func (w WorldTransform) Rotation() Mat3 { return w.rotation }

// Translation returns T.
func (w WorldTransform) Translation() r3.Vector { return w.translation }

// Apply maps a camera-1-frame point into the world frame.
func (w WorldTransform) Apply(p r3.Vector) r3.Vector {
	return w.rotation.MulVec(p).Add(w.translation)
}

// ApplyAll maps points in place.
func (w WorldTransform) ApplyAll(points []r3.Vector) {
	for i := range points {
		points[i] = w.Apply(points[i])
	}
}

// Inverse maps a world-frame point back into the camera-1 frame.
func (w WorldTransform) Inverse(p r3.Vector) r3.Vector {
	return w.rotation.T().MulVec(p.Sub(w.translation))
}

// ComposeLegacy builds a transform from the homogeneous matrices written by
// the older calibration tooling: R = Rz·Ry·Rx taken from the rotation
// matrices' upper-left blocks and T = R·t₁ + t₂ from the translation columns
// of mTrans and mTrans2.
func ComposeLegacy(rx, ry, rz, mTrans, mTrans2 [4][4]float64, tol float64) (WorldTransform, error) {
	block := func(m [4][4]float64) Mat3 {
		var out Mat3
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out[i][j] = m[i][j]
			}
		}
		return out
	}
	column := func(m [4][4]float64) r3.Vector {
		return r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
	}
	r := block(rz).Mul(block(ry)).Mul(block(rx))
	t := r.MulVec(column(mTrans)).Add(column(mTrans2))
	return NewWorldTransform(r, t, tol)
}

// FitResult reports the quality of a fitted world transform.
type FitResult struct {
	Transform WorldTransform
	// RMSE is the root mean square distance between the transformed
	// triangulated points and the reference points.
	RMSE float64
	// Residuals holds the per-point distance after fitting.
	Residuals []float64
}

// FitRigid finds the proper rotation R and translation T minimizing
// Σ‖R·src + T − dst‖² (Kabsch). At least three non-collinear points are
// required.
func FitRigid(src, dst []r3.Vector) (FitResult, error) {
	if len(src) != len(dst) {
		return FitResult{}, configErrorf("transform fit", "%d source points vs %d reference points", len(src), len(dst))
	}
	n := len(src)
	if n < 3 {
		return FitResult{}, configErrorf("transform fit", "need at least 3 points, got %d", n)
	}
	var cs, cd r3.Vector
	for i := 0; i < n; i++ {
		if !isFiniteVec(src[i]) || !isFiniteVec(dst[i]) {
			return FitResult{}, configErrorf("transform fit", "point %d is not finite", i)
		}
		cs = cs.Add(src[i])
		cd = cd.Add(dst[i])
	}
	cs = cs.Mul(1 / float64(n))
	cd = cd.Mul(1 / float64(n))

	h := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		a := src[i].Sub(cs)
		b := dst[i].Sub(cd)
		av := [3]float64{a.X, a.Y, a.Z}
		bv := [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return FitResult{}, configErrorf("transform fit", "SVD did not converge")
	}
	values := svd.Values(nil)
	if values[1] <= 1e-12*math.Max(values[0], 1) {
		return FitResult{}, configErrorf("transform fit", "reference points are collinear")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V·D·Uᵀ with D = diag(1, 1, sign(det(V·Uᵀ))) to exclude reflections.
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vut) < 0 {
		d.SetDiag(2, -1)
	}
	var vd, rot mat.Dense
	vd.Mul(&v, d)
	rot.Mul(&vd, u.T())
	r := Mat3FromDense(&rot)
	t := cd.Sub(r.MulVec(cs))

	wt, err := NewWorldTransform(r, t, DefaultRotationTolerance)
	if err != nil {
		return FitResult{}, err
	}
	res := FitResult{Transform: wt, Residuals: make([]float64, n)}
	var sum float64
	for i := 0; i < n; i++ {
		e := wt.Apply(src[i]).Sub(dst[i]).Norm()
		res.Residuals[i] = e
		sum += e * e
	}
	res.RMSE = math.Sqrt(sum / float64(n))
	return res, nil
}

// FitWorldTransform triangulates reference markers observed by both cameras
// and fits the camera-1 to world transform that maps them onto their known
// world coordinates.
func FitWorldTransform(calib *Calibration, cam1, cam2 []r2.Point, world []r3.Vector, opts UndistortOptions) (FitResult, error) {
	if len(cam1) != len(cam2) || len(cam1) != len(world) {
		return FitResult{}, configErrorf("transform fit", "observation counts differ: %d, %d, %d", len(cam1), len(cam2), len(world))
	}
	u1 := calib.UndistortCamera(0, cam1, opts)
	u2 := calib.UndistortCamera(1, cam2, opts)
	src, failed, err := TriangulateAll(u1, u2, calib.P1(), calib.P2())
	if err != nil {
		return FitResult{}, err
	}
	if failed > 0 {
		return FitResult{}, fmt.Errorf("transform fit: %d of %d markers: %w", failed, len(src), ErrDegenerateGeometry)
	}
	return FitRigid(src, world)
}
