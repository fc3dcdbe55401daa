package stereo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Undistortion defaults. OpenCV stops after 5 iterations when no criteria are
// given, which leaves sub-pixel residue on strongly distorted lenses.
const (
	DefaultUndistortMaxIterations = 20
	DefaultUndistortEpsilon       = 1e-12
)

// UndistortOptions controls the iterative inversion of the distortion model.
// A zero value uses the defaults.
type UndistortOptions struct {
	MaxIterations int
	// Epsilon stops iterating once re-distorting the estimate lands within
	// this distance of the observed normalized point. Negative disables the
	// early exit.
	Epsilon float64
}

func (o UndistortOptions) withDefaults() UndistortOptions {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultUndistortMaxIterations
	}
	if o.Epsilon == 0 {
		o.Epsilon = DefaultUndistortEpsilon
	}
	return o
}

// toNormalized applies K⁻¹ to a pixel coordinate.
func (c *Camera) toNormalized(p r2.Point) (float64, float64) {
	k := c.Matrix
	y := (p.Y - k[1][2]) / k[1][1]
	x := (p.X - k[0][2] - k[0][1]*y) / k[0][0]
	return x, y
}

// toPixel applies K to a normalized coordinate.
func (c *Camera) toPixel(x, y float64) r2.Point {
	k := c.Matrix
	return r2.Point{
		X: k[0][0]*x + k[0][1]*y + k[0][2],
		Y: k[1][1]*y + k[1][2],
	}
}

// distortNormalized applies the radial, tangential and thin prism terms.
func (d *distortion) distortNormalized(x, y float64) (float64, float64) {
	rsq := x*x + y*y
	r4 := rsq * rsq
	r6 := r4 * rsq
	radial := (1 + d.k1*rsq + d.k2*r4 + d.k3*r6) / (1 + d.k4*rsq + d.k5*r4 + d.k6*r6)
	xd := x*radial + 2*d.p1*x*y + d.p2*(rsq+2*x*x) + d.s1*rsq + d.s2*r4
	yd := y*radial + d.p1*(rsq+2*y*y) + 2*d.p2*x*y + d.s3*rsq + d.s4*r4
	return xd, yd
}

// UndistortPoint removes lens distortion from a single pixel coordinate and
// returns the ideal pixel coordinate under the same intrinsic matrix.
func UndistortPoint(p r2.Point, cam Camera, opts UndistortOptions) r2.Point {
	opts = opts.withDefaults()
	d := cam.coefficients()
	x0, y0 := cam.toNormalized(p)
	x, y := x0, y0
	for i := 0; i < opts.MaxIterations; i++ {
		rsq := x*x + y*y
		icdist := (1 + ((d.k6*rsq+d.k5)*rsq+d.k4)*rsq) / (1 + ((d.k3*rsq+d.k2)*rsq+d.k1)*rsq)
		if icdist < 0 {
			x, y = x0, y0
			break
		}
		dx := 2*d.p1*x*y + d.p2*(rsq+2*x*x) + d.s1*rsq + d.s2*rsq*rsq
		dy := d.p1*(rsq+2*y*y) + 2*d.p2*x*y + d.s3*rsq + d.s4*rsq*rsq
		x = (x0 - dx) * icdist
		y = (y0 - dy) * icdist

		if opts.Epsilon > 0 {
			xd, yd := d.distortNormalized(x, y)
			if math.Hypot(xd-x0, yd-y0) < opts.Epsilon {
				break
			}
		}
	}
	return cam.toPixel(x, y)
}

// Undistort maps every point through UndistortPoint. The input is not
// modified.
func Undistort(points []r2.Point, cam Camera, opts UndistortOptions) []r2.Point {
	out := make([]r2.Point, len(points))
	for i, p := range points {
		out[i] = UndistortPoint(p, cam, opts)
	}
	return out
}

// Project maps x through the rigid transform (r, t) into the camera frame and
// projects it with distortion. Points on the camera plane project to NaN.
func Project(x r3.Vector, r Mat3, t r3.Vector, cam Camera) r2.Point {
	xc := r.MulVec(x).Add(t)
	if xc.Z == 0 {
		return r2.Point{X: math.NaN(), Y: math.NaN()}
	}
	d := cam.coefficients()
	xd, yd := d.distortNormalized(xc.X/xc.Z, xc.Y/xc.Z)
	return cam.toPixel(xd, yd)
}

// ProjectTo projects a camera-1-frame point into camera idx (0 or 1).
func (c *Calibration) ProjectTo(idx int, x r3.Vector) r2.Point {
	r, t, cam := c.extrinsics(idx)
	return Project(x, r, t, *cam)
}

// UndistortCamera undistorts points observed by camera idx (0 or 1).
func (c *Calibration) UndistortCamera(idx int, points []r2.Point, opts UndistortOptions) []r2.Point {
	_, _, cam := c.extrinsics(idx)
	return Undistort(points, *cam, opts)
}

// InFront reports whether x (camera-1 frame) has positive depth in both
// cameras.
func (c *Calibration) InFront(x r3.Vector) bool {
	return x.Z > 0 && c.ToCamera(1, x).Z > 0
}

// homogeneousEpsilon bounds |w| relative to the solution norm; below it the
// point is treated as lying at infinity.
const homogeneousEpsilon = 1e-12

// Triangulate recovers the 3D point (in the frame P1 is expressed in) whose
// projections are p1 and p2, using the homogeneous DLT solved by SVD. The
// inputs are undistorted pixel coordinates.
func Triangulate(p1, p2 r2.Point, P1, P2 Projection) (r3.Vector, error) {
	a := mat.NewDense(4, 4, nil)
	for j := 0; j < 4; j++ {
		a.Set(0, j, p1.X*P1[2][j]-P1[0][j])
		a.Set(1, j, p1.Y*P1[2][j]-P1[1][j])
		a.Set(2, j, p2.X*P2[2][j]-P2[0][j])
		a.Set(3, j, p2.Y*P2[2][j]-P2[1][j])
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return r3.Vector{}, fmt.Errorf("%w: non-finite observation", ErrDegenerateGeometry)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return r3.Vector{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerateGeometry)
	}
	var v mat.Dense
	svd.VTo(&v)

	// The solution is the right singular vector of the smallest singular value.
	h := [4]float64{v.At(0, 3), v.At(1, 3), v.At(2, 3), v.At(3, 3)}
	norm := math.Sqrt(h[0]*h[0] + h[1]*h[1] + h[2]*h[2] + h[3]*h[3])
	if math.Abs(h[3]) <= homogeneousEpsilon*norm {
		return r3.Vector{}, fmt.Errorf("%w: point at infinity", ErrDegenerateGeometry)
	}
	x := r3.Vector{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}
	if !isFiniteVec(x) {
		return r3.Vector{}, fmt.Errorf("%w: non-finite point", ErrDegenerateGeometry)
	}
	return x, nil
}

// TriangulateAll triangulates corresponding point lists. Entries that fail are
// NaN vectors; the returned count reports how many failed.
func TriangulateAll(p1s, p2s []r2.Point, P1, P2 Projection) ([]r3.Vector, int, error) {
	if len(p1s) != len(p2s) {
		return nil, 0, fmt.Errorf("%w: %d camera-1 points vs %d camera-2 points", ErrReshapeMismatch, len(p1s), len(p2s))
	}
	out := make([]r3.Vector, len(p1s))
	failed := 0
	for i := range p1s {
		x, err := Triangulate(p1s[i], p2s[i], P1, P2)
		if err != nil {
			x = r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
			failed++
		}
		out[i] = x
	}
	return out, failed, nil
}

// ReprojectionError is the Euclidean distance between two image points.
func ReprojectionError(observed, predicted r2.Point) float64 {
	return math.Hypot(observed.X-predicted.X, observed.Y-predicted.Y)
}
