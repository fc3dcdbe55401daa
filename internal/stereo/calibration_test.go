package stereo

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openCVCalibration = `{
	"CM1": [[800, 0, 640], [0, 810, 360], [0, 0, 1]],
	"dist1": [[-0.05, 0.01, 0.001, -0.0005, 0.002]],
	"CM2": [[790, 0, 630], [0, 795, 350], [0, 0, 1]],
	"dist2": [-0.04, 0.008, -0.0008, 0.0004],
	"R": [[1, 0, 0], [0, 1, 0], [0, 0, 1]],
	"T": [[-200], [0], [20]],
	"F": [[0, 0, 0], [0, 0, 1], [0, -1, 0]],
	"img_size": [1280, 720]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseCalibrationOpenCV(t *testing.T) {
	c, err := ParseCalibration([]byte(openCVCalibration), "test", 0)
	require.NoError(t, err)

	cam1 := c.Camera(0)
	assert.Equal(t, Mat3{{800, 0, 640}, {0, 810, 360}, {0, 0, 1}}, cam1.Matrix)
	assert.Equal(t, []float64{-0.05, 0.01, 0.001, -0.0005, 0.002}, cam1.Distortion)
	assert.Equal(t, [2]int{1280, 720}, cam1.ImageSize)
	assert.Equal(t, r3.Vector{X: -200, Y: 0, Z: 20}, c.Translation())

	_, ok := c.Fundamental()
	assert.True(t, ok)
	_, ok = c.Essential()
	assert.False(t, ok)

	// P2 = K2[R|T] with R = I.
	want := Projection{
		{790, 0, 630, 790*-200 + 630*20},
		{0, 795, 350, 350 * 20},
		{0, 0, 1, 20},
	}
	if diff := cmp.Diff(want, c.P2(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("P2 mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Projection{{800, 0, 640, 0}, {0, 810, 360, 0}, {0, 0, 1, 0}}, c.P1())
}

func TestCalibrationAccessorsReturnCopies(t *testing.T) {
	c := SyntheticCalibration()
	cam := c.Camera(0)
	cam.Distortion[0] = 42
	assert.NotEqual(t, 42.0, c.Camera(0).Distortion[0])
}

func TestParseCalibrationMatlab(t *testing.T) {
	// Rotation of camera 2 is a 90° turn about z; the stored R is its inverse.
	doc := `{"stereoParams": {
		"CameraParameters1": {
			"FocalLength": [800, 810], "PrincipalPoint": [641, 361],
			"RadialDistortion": [-0.05, 0.01, 0.002], "TangentialDistortion": [0.001, -0.0005],
			"ImageSize": [720, 1280]
		},
		"CameraParameters2": {
			"FocalLength": [790, 795], "PrincipalPoint": [631, 351],
			"RadialDistortion": [-0.04, 0.008], "TangentialDistortion": [-0.0008, 0.0004],
			"ImageSize": [720, 1280]
		},
		"RotationOfCamera2": [[0, -1, 0], [1, 0, 0], [0, 0, 1]],
		"TranslationOfCamera2": [-200, 0, 20],
		"FundamentalMatrix": [[0, 0, 0], [0, 0, 1], [0, -1, 0]],
		"EssentialMatrix": [[0, -20, 0], [20, 0, 200], [0, -200, 0]]
	}}`
	c, err := ParseCalibration([]byte(doc), "matlab.json", 0)
	require.NoError(t, err)

	cam1 := c.Camera(0)
	assert.Equal(t, Mat3{{800, 0, 640}, {0, 810, 360}, {0, 0, 1}}, cam1.Matrix)
	assert.Equal(t, []float64{-0.05, 0.01, 0.001, -0.0005, 0.002}, cam1.Distortion)
	assert.Equal(t, []float64{-0.04, 0.008, -0.0008, 0.0004}, c.Camera(1).Distortion)
	assert.Equal(t, [2]int{720, 1280}, cam1.ImageSize)

	r := c.Rotation()
	wantR := Mat3{{0, 1, 0}, {-1, 0, 0}, {0, 0, 1}}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, wantR[i][j], r[i][j], 1e-12)
		}
	}
	_, ok := c.Essential()
	assert.True(t, ok)
}

func TestParseCalibrationErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{`},
		{"missing field", `{"CM1": [[1,0,0],[0,1,0],[0,0,1]]}`},
		{"bad matrix shape", `{"CM1": [1, 2], "dist1": [], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,1]], "T": [1,0,0]}`},
		{"reflection", `{"CM1": [[1,0,0],[0,1,0],[0,0,1]], "dist1": [], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,-1]], "T": [1,0,0]}`},
		{"bad distortion count", `{"CM1": [[1,0,0],[0,1,0],[0,0,1]], "dist1": [0,0,0], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,1]], "T": [1,0,0]}`},
		{"tilt", `{"CM1": [[1,0,0],[0,1,0],[0,0,1]], "dist1": [0,0,0,0,0,0,0,0,0,0,0,0,0.1,0], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,1]], "T": [1,0,0]}`},
		{"zero baseline", `{"CM1": [[1,0,0],[0,1,0],[0,0,1]], "dist1": [], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,1]], "T": [0,0,0]}`},
		{"negative focal length", `{"CM1": [[-1,0,0],[0,1,0],[0,0,1]], "dist1": [], "CM2": [[1,0,0],[0,1,0],[0,0,1]], "dist2": [], "R": [[1,0,0],[0,1,0],[0,0,1]], "T": [1,0,0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCalibration([]byte(tt.doc), "test", 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			var ce *ConfigurationError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestLoadCalibration(t *testing.T) {
	path := writeFile(t, "calib.json", openCVCalibration)
	c, err := LoadCalibration(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 800.0, c.Camera(0).Matrix[0][0])

	_, err = LoadCalibration(writeFile(t, "calib.txt", openCVCalibration), 0)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = LoadCalibration(filepath.Join(t.TempDir(), "missing.json"), 0)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestMat3IsRotation(t *testing.T) {
	assert.True(t, Identity3().IsRotation(1e-9))
	assert.True(t, RotationY(0.3).Mul(RotationZ(-1.2)).IsRotation(1e-9))
	assert.False(t, Mat3{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}}.IsRotation(1e-3))
	assert.False(t, Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, math.NaN()}}.IsRotation(1e-3))
}
