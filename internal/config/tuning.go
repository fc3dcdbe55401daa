package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the numeric knobs of reconstruction and tracking.
// Every field is optional; the Get* accessors fall back to built-in defaults
// so partial files are safe.
type TuningConfig struct {
	// Geometry
	UndistortMaxIterations *int     `json:"undistort_max_iterations,omitempty"`
	UndistortEpsilon       *float64 `json:"undistort_epsilon,omitempty"`
	RejectBehindCamera     *bool    `json:"reject_behind_camera,omitempty"`
	RotationTolerance      *float64 `json:"rotation_tolerance,omitempty"`

	// Matching and tracking gates; 0 disables a gate.
	MaxReprojectionError *float64 `json:"max_reprojection_error,omitempty"`
	MaxDisplacement      *float64 `json:"max_displacement,omitempty"`

	// Batch execution
	Workers          *int    `json:"workers,omitempty"`
	ProgressInterval *string `json:"progress_interval,omitempty"` // duration string like "5s"

	// Table layout. Camera IDs are detected from the CSV header when unset.
	Cam1ID       *string `json:"cam1_id,omitempty"`
	Cam2ID       *string `json:"cam2_id,omitempty"`
	ExpectedRods *int    `json:"expected_rods,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		UndistortMaxIterations: ptrInt(e.GetUndistortMaxIterations()),
		UndistortEpsilon:       ptrFloat64(e.GetUndistortEpsilon()),
		RejectBehindCamera:     ptrBool(e.GetRejectBehindCamera()),
		RotationTolerance:      ptrFloat64(e.GetRotationTolerance()),
		MaxReprojectionError:   ptrFloat64(e.GetMaxReprojectionError()),
		MaxDisplacement:        ptrFloat64(e.GetMaxDisplacement()),
		Workers:                ptrInt(0),
		ProgressInterval:       ptrString("5s"),
		ExpectedRods:           ptrInt(e.GetExpectedRods()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1 MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and its parents up to the repository
// root. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/ or cmd/rodtrack/
		"../../../" + DefaultConfigPath,    // from internal/storage/sqlite/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.UndistortMaxIterations != nil && *c.UndistortMaxIterations < 1 {
		return fmt.Errorf("undistort_max_iterations must be at least 1, got %d", *c.UndistortMaxIterations)
	}
	if c.UndistortEpsilon != nil && *c.UndistortEpsilon < 0 {
		return fmt.Errorf("undistort_epsilon must be non-negative, got %g", *c.UndistortEpsilon)
	}
	if c.RotationTolerance != nil && (*c.RotationTolerance <= 0 || *c.RotationTolerance > 0.1) {
		return fmt.Errorf("rotation_tolerance must be in (0, 0.1], got %g", *c.RotationTolerance)
	}
	if c.MaxReprojectionError != nil && *c.MaxReprojectionError < 0 {
		return fmt.Errorf("max_reprojection_error must be non-negative, got %g", *c.MaxReprojectionError)
	}
	if c.MaxDisplacement != nil && *c.MaxDisplacement < 0 {
		return fmt.Errorf("max_displacement must be non-negative, got %g", *c.MaxDisplacement)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.ProgressInterval != nil && *c.ProgressInterval != "" {
		if _, err := time.ParseDuration(*c.ProgressInterval); err != nil {
			return fmt.Errorf("invalid progress_interval '%s': %w", *c.ProgressInterval, err)
		}
	}
	if (c.GetCam1ID() == "") != (c.GetCam2ID() == "") {
		return fmt.Errorf("cam1_id and cam2_id must be set together, got %q and %q", c.GetCam1ID(), c.GetCam2ID())
	}
	if c.GetCam1ID() != "" && c.GetCam1ID() == c.GetCam2ID() {
		return fmt.Errorf("cam1_id and cam2_id must differ, both are %q", *c.Cam1ID)
	}
	if c.ExpectedRods != nil && *c.ExpectedRods < 0 {
		return fmt.Errorf("expected_rods must be non-negative, got %d", *c.ExpectedRods)
	}
	return nil
}

// GetUndistortMaxIterations returns the undistort_max_iterations value or the default.
func (c *TuningConfig) GetUndistortMaxIterations() int {
	if c.UndistortMaxIterations == nil {
		return 20
	}
	return *c.UndistortMaxIterations
}

// GetUndistortEpsilon returns the undistort_epsilon value or the default.
func (c *TuningConfig) GetUndistortEpsilon() float64 {
	if c.UndistortEpsilon == nil {
		return 1e-12
	}
	return *c.UndistortEpsilon
}

// GetRejectBehindCamera returns the reject_behind_camera value or the default.
func (c *TuningConfig) GetRejectBehindCamera() bool {
	if c.RejectBehindCamera == nil {
		return true
	}
	return *c.RejectBehindCamera
}

// GetRotationTolerance returns the rotation_tolerance value or the default.
func (c *TuningConfig) GetRotationTolerance() float64 {
	if c.RotationTolerance == nil {
		return 1e-3
	}
	return *c.RotationTolerance
}

// GetMaxReprojectionError returns the max_reprojection_error value or the default (disabled).
func (c *TuningConfig) GetMaxReprojectionError() float64 {
	if c.MaxReprojectionError == nil {
		return 0
	}
	return *c.MaxReprojectionError
}

// GetMaxDisplacement returns the max_displacement value or the default (disabled).
func (c *TuningConfig) GetMaxDisplacement() float64 {
	if c.MaxDisplacement == nil {
		return 0
	}
	return *c.MaxDisplacement
}

// GetWorkers returns the worker count; 0 or unset means one per CPU.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetProgressInterval parses and returns the ProgressInterval as a time.Duration.
func (c *TuningConfig) GetProgressInterval() time.Duration {
	if c.ProgressInterval == nil || *c.ProgressInterval == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ProgressInterval)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetCam1ID returns the cam1_id value, or "" to detect it from the input.
func (c *TuningConfig) GetCam1ID() string {
	if c.Cam1ID == nil {
		return ""
	}
	return *c.Cam1ID
}

// GetCam2ID returns the cam2_id value, or "" to detect it from the input.
func (c *TuningConfig) GetCam2ID() string {
	if c.Cam2ID == nil {
		return ""
	}
	return *c.Cam2ID
}

// GetExpectedRods returns the expected_rods value or the default (no imputation).
func (c *TuningConfig) GetExpectedRods() int {
	if c.ExpectedRods == nil {
		return 0
	}
	return *c.ExpectedRods
}
