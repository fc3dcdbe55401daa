package stereo

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenePoints() []r3.Vector {
	var pts []r3.Vector
	for _, x := range []float64{-150, -40, 0, 60, 180} {
		for _, y := range []float64{-90, 0, 75} {
			for _, z := range []float64{850, 1000, 1200} {
				pts = append(pts, r3.Vector{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

func TestRoundTripReprojection(t *testing.T) {
	t.Parallel()
	calib := SyntheticCalibration()

	for _, x := range scenePoints() {
		obs1 := calib.ProjectTo(0, x)
		obs2 := calib.ProjectTo(1, x)

		u1 := calib.UndistortCamera(0, []r2.Point{obs1}, UndistortOptions{})
		u2 := calib.UndistortCamera(1, []r2.Point{obs2}, UndistortOptions{})
		got, err := Triangulate(u1[0], u2[0], calib.P1(), calib.P2())
		require.NoError(t, err)

		assert.LessOrEqual(t, ReprojectionError(obs1, calib.ProjectTo(0, got)), 1e-6, "camera 1 at %v", x)
		assert.LessOrEqual(t, ReprojectionError(obs2, calib.ProjectTo(1, got)), 1e-6, "camera 2 at %v", x)
		assert.InDelta(t, 0, got.Sub(x).Norm(), 1e-6)
	}
}

func TestUndistortInvertsDistortion(t *testing.T) {
	t.Parallel()
	cam := SyntheticCalibration().Camera(0)
	d := cam.coefficients()

	for _, ideal := range []r2.Point{{X: 640, Y: 360}, {X: 100, Y: 80}, {X: 1200, Y: 650}, {X: 400, Y: 600}} {
		x, y := cam.toNormalized(ideal)
		xd, yd := d.distortNormalized(x, y)
		distorted := cam.toPixel(xd, yd)

		got := UndistortPoint(distorted, cam, UndistortOptions{})
		assert.InDelta(t, ideal.X, got.X, 1e-7)
		assert.InDelta(t, ideal.Y, got.Y, 1e-7)
	}
}

func TestUndistortWithoutDistortionIsIdentity(t *testing.T) {
	cam := Camera{Matrix: Mat3{{500, 0.5, 320}, {0, 505, 240}, {0, 0, 1}}}
	in := []r2.Point{{X: 0, Y: 0}, {X: 320, Y: 240}, {X: 639.5, Y: 10}}
	out := Undistort(in, cam, UndistortOptions{MaxIterations: 1})
	for i := range in {
		assert.InDelta(t, in[i].X, out[i].X, 1e-9)
		assert.InDelta(t, in[i].Y, out[i].Y, 1e-9)
	}
}

func TestTriangulateDegenerate(t *testing.T) {
	calib := SyntheticCalibration()

	t.Run("non-finite observation", func(t *testing.T) {
		_, err := Triangulate(r2.Point{X: math.NaN(), Y: 1}, r2.Point{X: 1, Y: 1}, calib.P1(), calib.P2())
		assert.True(t, errors.Is(err, ErrDegenerateGeometry))
	})

	t.Run("infinite observation", func(t *testing.T) {
		_, err := Triangulate(r2.Point{X: 1, Y: 1}, r2.Point{X: math.Inf(1), Y: 1}, calib.P1(), calib.P2())
		assert.ErrorIs(t, err, ErrDegenerateGeometry)
	})
}

func TestTriangulateAll(t *testing.T) {
	calib := SyntheticCalibration()
	pts := scenePoints()[:4]
	var p1s, p2s []r2.Point
	for _, x := range pts {
		p1s = append(p1s, UndistortPoint(calib.ProjectTo(0, x), calib.Camera(0), UndistortOptions{}))
		p2s = append(p2s, UndistortPoint(calib.ProjectTo(1, x), calib.Camera(1), UndistortOptions{}))
	}
	p1s = append(p1s, r2.Point{X: math.NaN(), Y: 0})
	p2s = append(p2s, r2.Point{X: 0, Y: 0})

	got, failed, err := TriangulateAll(p1s, p2s, calib.P1(), calib.P2())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	require.Len(t, got, 5)
	for i, x := range pts {
		assert.InDelta(t, 0, got[i].Sub(x).Norm(), 1e-6)
	}
	assert.False(t, IsFinite(got[4]))

	_, _, err = TriangulateAll(p1s[:2], p2s, calib.P1(), calib.P2())
	assert.ErrorIs(t, err, ErrReshapeMismatch)
}

func TestInFront(t *testing.T) {
	calib := SyntheticCalibration()
	assert.True(t, calib.InFront(r3.Vector{Z: 1000}))
	assert.False(t, calib.InFront(r3.Vector{Z: -1000}))
}

func TestReprojectionError(t *testing.T) {
	assert.Equal(t, 5.0, ReprojectionError(r2.Point{X: 3, Y: 4}, r2.Point{}))
	assert.Zero(t, ReprojectionError(r2.Point{X: 1, Y: 1}, r2.Point{X: 1, Y: 1}))
}
