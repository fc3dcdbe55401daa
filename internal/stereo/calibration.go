package stereo

import (
	"math"

	"github.com/golang/geo/r3"
)

// DefaultRotationTolerance bounds the orthonormality and determinant error
// accepted for rotation matrices read from calibration files.
const DefaultRotationTolerance = 1e-3

// Camera holds one camera's intrinsics in OpenCV convention.
type Camera struct {
	// Matrix is the intrinsic matrix [[fx, s, cx], [0, fy, cy], [0, 0, 1]].
	Matrix Mat3
	// Distortion holds 0, 4, 5, 8, 12 or 14 coefficients in OpenCV order:
	// k1, k2, p1, p2[, k3[, k4, k5, k6[, s1, s2, s3, s4[, τx, τy]]]].
	Distortion []float64
	// ImageSize is (width, height) in pixels; zero when unknown.
	ImageSize [2]int
}

// distortion is the expanded coefficient set; absent terms are zero.
type distortion struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
	s1, s2, s3, s4                 float64
}

func (c Camera) coefficients() distortion {
	var d distortion
	dst := []*float64{&d.k1, &d.k2, &d.p1, &d.p2, &d.k3, &d.k4, &d.k5, &d.k6, &d.s1, &d.s2, &d.s3, &d.s4}
	for i, v := range c.Distortion {
		if i >= len(dst) {
			break
		}
		*dst[i] = v
	}
	return d
}

func (c Camera) validate(source string) error {
	if !c.Matrix.IsFinite() {
		return configErrorf(source, "camera matrix contains non-finite values")
	}
	if c.Matrix[0][0] <= 0 || c.Matrix[1][1] <= 0 {
		return configErrorf(source, "focal lengths must be positive, got fx=%g fy=%g", c.Matrix[0][0], c.Matrix[1][1])
	}
	if c.Matrix[1][0] != 0 || c.Matrix[2][0] != 0 || c.Matrix[2][1] != 0 || c.Matrix[2][2] != 1 {
		return configErrorf(source, "camera matrix is not upper triangular with K[2][2]=1")
	}
	switch len(c.Distortion) {
	case 0, 4, 5, 8, 12, 14:
	default:
		return configErrorf(source, "expected 4, 5, 8, 12 or 14 distortion coefficients, got %d", len(c.Distortion))
	}
	for _, v := range c.Distortion {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return configErrorf(source, "distortion coefficients contain non-finite values")
		}
	}
	if len(c.Distortion) == 14 && (c.Distortion[12] != 0 || c.Distortion[13] != 0) {
		return configErrorf(source, "tilted sensor model (τx, τy) is not supported")
	}
	return nil
}

// Projection is a 3×4 camera projection matrix.
type Projection [3][4]float64

func projection(k, r Mat3, t r3.Vector) Projection {
	rt := [3][4]float64{
		{r[0][0], r[0][1], r[0][2], t.X},
		{r[1][0], r[1][1], r[1][2], t.Y},
		{r[2][0], r[2][1], r[2][2], t.Z},
	}
	var p Projection
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			for l := 0; l < 3; l++ {
				p[i][j] += k[i][l] * rt[l][j]
			}
		}
	}
	return p
}

// CalibrationParams is the raw input to NewCalibration.
type CalibrationParams struct {
	Camera1 Camera
	Camera2 Camera
	// Rotation and Translation map camera-1 coordinates into camera-2
	// coordinates: X2 = R·X1 + T.
	Rotation    Mat3
	Translation r3.Vector
	// Fundamental and Essential are carried through from files that have them.
	Fundamental *Mat3
	Essential   *Mat3
	// RotationTolerance overrides DefaultRotationTolerance when positive.
	RotationTolerance float64
}

// Calibration is a validated stereo calibration with its derived projection
// matrices. It is immutable after construction and safe to share between
// goroutines.
type Calibration struct {
	cam1, cam2  Camera
	rotation    Mat3
	translation r3.Vector
	fundamental *Mat3
	essential   *Mat3
	p1, p2      Projection
}

// NewCalibration validates p and derives P1 = K1[I|0] and P2 = K2[R|T].
func NewCalibration(p CalibrationParams) (*Calibration, error) {
	tol := p.RotationTolerance
	if tol <= 0 {
		tol = DefaultRotationTolerance
	}
	if err := p.Camera1.validate("camera 1"); err != nil {
		return nil, err
	}
	if err := p.Camera2.validate("camera 2"); err != nil {
		return nil, err
	}
	if !p.Rotation.IsRotation(tol) {
		return nil, configErrorf("stereo rotation", "not a proper rotation (det=%.6f)", p.Rotation.Det())
	}
	if !isFiniteVec(p.Translation) {
		return nil, configErrorf("stereo translation", "contains non-finite values")
	}
	if p.Translation.Norm() == 0 {
		return nil, configErrorf("stereo translation", "zero baseline")
	}

	c := &Calibration{
		cam1:        cloneCamera(p.Camera1),
		cam2:        cloneCamera(p.Camera2),
		rotation:    p.Rotation,
		translation: p.Translation,
	}
	if p.Fundamental != nil {
		f := *p.Fundamental
		c.fundamental = &f
	}
	if p.Essential != nil {
		e := *p.Essential
		c.essential = &e
	}
	c.p1 = projection(c.cam1.Matrix, Identity3(), r3.Vector{})
	c.p2 = projection(c.cam2.Matrix, c.rotation, c.translation)
	return c, nil
}

func cloneCamera(c Camera) Camera {
	out := c
	out.Distortion = append([]float64(nil), c.Distortion...)
	return out
}

// Camera returns a copy of camera idx (0 or 1).
func (c *Calibration) Camera(idx int) Camera {
	if idx == 0 {
		return cloneCamera(c.cam1)
	}
	return cloneCamera(c.cam2)
}

// Rotation returns the cam1→cam2 rotation.
func (c *Calibration) Rotation() Mat3 { return c.rotation }

// Translation returns the cam1→cam2 translation.
func (c *Calibration) Translation() r3.Vector { return c.translation }

// P1 returns camera 1's projection matrix.
func (c *Calibration) P1() Projection { return c.p1 }

// P2 returns camera 2's projection matrix.
func (c *Calibration) P2() Projection { return c.p2 }

// Fundamental returns the fundamental matrix if the input carried one.
func (c *Calibration) Fundamental() (Mat3, bool) {
	if c.fundamental == nil {
		return Mat3{}, false
	}
	return *c.fundamental, true
}

// Essential returns the essential matrix if the input carried one.
func (c *Calibration) Essential() (Mat3, bool) {
	if c.essential == nil {
		return Mat3{}, false
	}
	return *c.essential, true
}

// extrinsics returns the camera-1-frame to camera-idx-frame transform.
func (c *Calibration) extrinsics(idx int) (Mat3, r3.Vector, *Camera) {
	if idx == 0 {
		return Identity3(), r3.Vector{}, &c.cam1
	}
	return c.rotation, c.translation, &c.cam2
}

// ToCamera maps a camera-1-frame point into camera idx's frame.
func (c *Calibration) ToCamera(idx int, x r3.Vector) r3.Vector {
	r, t, _ := c.extrinsics(idx)
	return r.MulVec(x).Add(t)
}
