package stereo

import (
	"errors"
	"fmt"
)

// Error classes shared by the reconstruction packages. Only configuration
// errors are fatal; the others are recorded per frame and the run continues.
var (
	// ErrConfiguration marks malformed calibration or transformation input.
	ErrConfiguration = errors.New("configuration error")
	// ErrDegenerateGeometry marks a triangulation that produced a non-finite
	// or behind-camera point.
	ErrDegenerateGeometry = errors.New("degenerate geometry")
	// ErrEmptyFrame marks a frame with no usable candidates in a camera.
	ErrEmptyFrame = errors.New("empty frame data")
	// ErrReshapeMismatch marks a frame whose rows violate the one-rod-per-row
	// assumption (e.g. a particle ID occurring twice).
	ErrReshapeMismatch = errors.New("reshape mismatch")
	// ErrAssignmentInfeasible marks a cost matrix without any finite entry
	// that could be assigned.
	ErrAssignmentInfeasible = errors.New("assignment infeasible")
)

// ConfigurationError describes why a calibration or transformation input was
// rejected. It unwraps to ErrConfiguration.
type ConfigurationError struct {
	Source string // file or field the problem was found in
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Source, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(source, format string, args ...interface{}) error {
	return &ConfigurationError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
