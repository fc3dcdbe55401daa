package stereo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// maxCalibrationFileSize caps calibration and transform files, which are a
// few kilobytes in practice.
const maxCalibrationFileSize = 1 << 20

func readJSONFile(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" {
		return nil, configErrorf(path, "only .json files are supported, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, configErrorf(path, "stat: %v", err)
	}
	if info.Size() > maxCalibrationFileSize {
		return nil, configErrorf(path, "file too large: %d bytes (max %d)", info.Size(), maxCalibrationFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf(path, "read: %v", err)
	}
	return data, nil
}

// LoadCalibration reads a stereo calibration in either the current OpenCV
// layout or the legacy MATLAB stereoParams export.
func LoadCalibration(path string, rotationTolerance float64) (*Calibration, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCalibration(data, path, rotationTolerance)
}

// ParseCalibration decodes calibration JSON. source names the input in
// errors.
func ParseCalibration(data []byte, source string, rotationTolerance float64) (*Calibration, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, configErrorf(source, "invalid JSON: %v", err)
	}
	var (
		params CalibrationParams
		err    error
	)
	if raw, ok := doc["stereoParams"]; ok {
		params, err = parseMatlabCalibration(raw, source)
		Opsf("calibration %s uses the legacy MATLAB layout; convert it to the OpenCV layout", source)
	} else {
		params, err = parseOpenCVCalibration(doc, source)
	}
	if err != nil {
		return nil, err
	}
	params.RotationTolerance = rotationTolerance
	c, err := NewCalibration(params)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			ce.Source = source + ": " + ce.Source
		}
		return nil, err
	}
	return c, nil
}

func parseOpenCVCalibration(doc map[string]json.RawMessage, source string) (CalibrationParams, error) {
	var p CalibrationParams
	for _, key := range []string{"CM1", "dist1", "CM2", "dist2", "R", "T"} {
		if _, ok := doc[key]; !ok {
			return p, configErrorf(source, "missing required field %q", key)
		}
	}
	var err error
	if p.Camera1.Matrix, err = mat3Field(doc, "CM1", source); err != nil {
		return p, err
	}
	if p.Camera2.Matrix, err = mat3Field(doc, "CM2", source); err != nil {
		return p, err
	}
	if p.Camera1.Distortion, err = floatsField(doc, "dist1", source); err != nil {
		return p, err
	}
	if p.Camera2.Distortion, err = floatsField(doc, "dist2", source); err != nil {
		return p, err
	}
	if p.Rotation, err = mat3Field(doc, "R", source); err != nil {
		return p, err
	}
	if p.Translation, err = vec3Field(doc, "T", source); err != nil {
		return p, err
	}
	if _, ok := doc["F"]; ok {
		f, err := mat3Field(doc, "F", source)
		if err != nil {
			return p, err
		}
		p.Fundamental = &f
	}
	if _, ok := doc["E"]; ok {
		e, err := mat3Field(doc, "E", source)
		if err != nil {
			return p, err
		}
		p.Essential = &e
	}
	if _, ok := doc["img_size"]; ok {
		size, err := floatsField(doc, "img_size", source)
		if err != nil {
			return p, err
		}
		if len(size) != 2 {
			return p, configErrorf(source, "img_size: expected 2 values, got %d", len(size))
		}
		p.Camera1.ImageSize = [2]int{int(size[0]), int(size[1])}
		p.Camera2.ImageSize = p.Camera1.ImageSize
	}
	return p, nil
}

type matlabCamera struct {
	FocalLength          json.RawMessage
	PrincipalPoint       json.RawMessage
	RadialDistortion     json.RawMessage
	TangentialDistortion json.RawMessage
	ImageSize            json.RawMessage
}

type matlabStereo struct {
	CameraParameters1    *matlabCamera
	CameraParameters2    *matlabCamera
	RotationOfCamera2    json.RawMessage
	TranslationOfCamera2 json.RawMessage
	FundamentalMatrix    json.RawMessage
	EssentialMatrix      json.RawMessage
}

func parseMatlabCalibration(raw json.RawMessage, source string) (CalibrationParams, error) {
	var p CalibrationParams
	var sp matlabStereo
	if err := json.Unmarshal(raw, &sp); err != nil {
		return p, configErrorf(source, "stereoParams: %v", err)
	}
	if sp.CameraParameters1 == nil || sp.CameraParameters2 == nil {
		return p, configErrorf(source, "stereoParams: missing CameraParameters1/2")
	}
	var err error
	if p.Camera1, err = matlabToCamera(sp.CameraParameters1, source+" CameraParameters1"); err != nil {
		return p, err
	}
	if p.Camera2, err = matlabToCamera(sp.CameraParameters2, source+" CameraParameters2"); err != nil {
		return p, err
	}
	// The stereo image size is taken from the second camera.
	p.Camera1.ImageSize = p.Camera2.ImageSize

	rot, err := rawMat3(sp.RotationOfCamera2, "RotationOfCamera2", source)
	if err != nil {
		return p, err
	}
	var inv mat.Dense
	if err := inv.Inverse(rot.Dense()); err != nil {
		return p, configErrorf(source, "RotationOfCamera2 is singular: %v", err)
	}
	p.Rotation = Mat3FromDense(&inv)
	if p.Translation, err = rawVec3(sp.TranslationOfCamera2, "TranslationOfCamera2", source); err != nil {
		return p, err
	}
	if len(sp.FundamentalMatrix) > 0 {
		f, err := rawMat3(sp.FundamentalMatrix, "FundamentalMatrix", source)
		if err != nil {
			return p, err
		}
		p.Fundamental = &f
	}
	if len(sp.EssentialMatrix) > 0 {
		e, err := rawMat3(sp.EssentialMatrix, "EssentialMatrix", source)
		if err != nil {
			return p, err
		}
		p.Essential = &e
	}
	return p, nil
}

// matlabToCamera converts MATLAB intrinsics to the OpenCV layout. MATLAB
// pixel indices start at 1, so the principal point shifts by one.
func matlabToCamera(mc *matlabCamera, source string) (Camera, error) {
	var c Camera
	focal, err := rawFloats(mc.FocalLength, "FocalLength", source)
	if err != nil {
		return c, err
	}
	pp, err := rawFloats(mc.PrincipalPoint, "PrincipalPoint", source)
	if err != nil {
		return c, err
	}
	if len(focal) != 2 || len(pp) != 2 {
		return c, configErrorf(source, "FocalLength and PrincipalPoint need 2 values each")
	}
	c.Matrix = Mat3{
		{focal[0], 0, pp[0] - 1},
		{0, focal[1], pp[1] - 1},
		{0, 0, 1},
	}
	radial, err := rawFloats(mc.RadialDistortion, "RadialDistortion", source)
	if err != nil {
		return c, err
	}
	tangential, err := rawFloats(mc.TangentialDistortion, "TangentialDistortion", source)
	if err != nil {
		return c, err
	}
	if len(radial) < 2 || len(radial) > 3 || len(tangential) != 2 {
		return c, configErrorf(source, "expected 2 or 3 radial and 2 tangential coefficients")
	}
	c.Distortion = []float64{radial[0], radial[1], tangential[0], tangential[1]}
	if len(radial) == 3 {
		c.Distortion = append(c.Distortion, radial[2])
	}
	if len(mc.ImageSize) > 0 {
		size, err := rawFloats(mc.ImageSize, "ImageSize", source)
		if err != nil {
			return c, err
		}
		if len(size) == 2 {
			c.ImageSize = [2]int{int(size[0]), int(size[1])}
		}
	}
	return c, nil
}

// TransformFile is the on-disk shape of a world transformation.
type TransformFile struct {
	Rotation    json.RawMessage `json:"rotation,omitempty"`
	Translation json.RawMessage `json:"translation,omitempty"`
	RotateX     json.RawMessage `json:"M_rotate_x,omitempty"`
	RotateY     json.RawMessage `json:"M_rotate_y,omitempty"`
	RotateZ     json.RawMessage `json:"M_rotate_z,omitempty"`
	Trans       json.RawMessage `json:"M_trans,omitempty"`
	Trans2      json.RawMessage `json:"M_trans2,omitempty"`
}

// LoadWorldTransform reads a camera-1 to world transform.
func LoadWorldTransform(path string, rotationTolerance float64) (WorldTransform, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return WorldTransform{}, err
	}
	return ParseWorldTransform(data, path, rotationTolerance)
}

// ParseWorldTransform decodes either {rotation, translation} or the legacy
// M_rotate_*/M_trans matrices, optionally nested under "transformations".
func ParseWorldTransform(data []byte, source string, rotationTolerance float64) (WorldTransform, error) {
	var wrapper struct {
		Transformations *json.RawMessage `json:"transformations"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return WorldTransform{}, configErrorf(source, "invalid JSON: %v", err)
	}
	if wrapper.Transformations != nil {
		data = *wrapper.Transformations
	}
	var tf TransformFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return WorldTransform{}, configErrorf(source, "invalid transform: %v", err)
	}

	if len(tf.Rotation) > 0 || len(tf.Translation) > 0 {
		r, err := rawMat3(tf.Rotation, "rotation", source)
		if err != nil {
			return WorldTransform{}, err
		}
		t, err := rawVec3(tf.Translation, "translation", source)
		if err != nil {
			return WorldTransform{}, err
		}
		wt, err := NewWorldTransform(r, t, rotationTolerance)
		if err != nil {
			return WorldTransform{}, fmt.Errorf("%s: %w", source, err)
		}
		return wt, nil
	}

	var mats [5][4][4]float64
	for i, f := range []struct {
		raw  json.RawMessage
		name string
	}{
		{tf.RotateX, "M_rotate_x"},
		{tf.RotateY, "M_rotate_y"},
		{tf.RotateZ, "M_rotate_z"},
		{tf.Trans, "M_trans"},
		{tf.Trans2, "M_trans2"},
	} {
		m, err := rawMat4(f.raw, f.name, source)
		if err != nil {
			return WorldTransform{}, err
		}
		mats[i] = m
	}
	wt, err := ComposeLegacy(mats[0], mats[1], mats[2], mats[3], mats[4], rotationTolerance)
	if err != nil {
		return WorldTransform{}, fmt.Errorf("%s: %w", source, err)
	}
	return wt, nil
}

// flatten walks arbitrarily nested JSON arrays in row-major order.
func flatten(v interface{}, out []float64) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return append(out, x), nil
	case nil:
		return append(out, math.NaN()), nil
	case []interface{}:
		for _, e := range x {
			var err error
			if out, err = flatten(e, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
}

func rawFloats(raw json.RawMessage, name, source string) ([]float64, error) {
	if len(raw) == 0 {
		return nil, configErrorf(source, "missing field %q", name)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, configErrorf(source, "%s: %v", name, err)
	}
	vals, err := flatten(v, nil)
	if err != nil {
		return nil, configErrorf(source, "%s: %v", name, err)
	}
	return vals, nil
}

func rawMat3(raw json.RawMessage, name, source string) (Mat3, error) {
	vals, err := rawFloats(raw, name, source)
	if err != nil {
		return Mat3{}, err
	}
	if len(vals) != 9 {
		return Mat3{}, configErrorf(source, "%s: expected 9 values, got %d", name, len(vals))
	}
	var m Mat3
	for i := 0; i < 9; i++ {
		m[i/3][i%3] = vals[i]
	}
	return m, nil
}

func rawMat4(raw json.RawMessage, name, source string) ([4][4]float64, error) {
	var m [4][4]float64
	vals, err := rawFloats(raw, name, source)
	if err != nil {
		return m, err
	}
	if len(vals) != 16 {
		return m, configErrorf(source, "%s: expected 16 values, got %d", name, len(vals))
	}
	for i := 0; i < 16; i++ {
		m[i/4][i%4] = vals[i]
	}
	return m, nil
}

func rawVec3(raw json.RawMessage, name, source string) (r3.Vector, error) {
	vals, err := rawFloats(raw, name, source)
	if err != nil {
		return r3.Vector{}, err
	}
	if len(vals) != 3 {
		return r3.Vector{}, configErrorf(source, "%s: expected 3 values, got %d", name, len(vals))
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

func mat3Field(doc map[string]json.RawMessage, key, source string) (Mat3, error) {
	return rawMat3(doc[key], key, source)
}

func vec3Field(doc map[string]json.RawMessage, key, source string) (r3.Vector, error) {
	return rawVec3(doc[key], key, source)
}

func floatsField(doc map[string]json.RawMessage, key, source string) ([]float64, error) {
	return rawFloats(doc[key], key, source)
}
