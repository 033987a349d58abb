package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrTransient    = errors.New("transient failure")
)

// Specific errors.
var (
	ErrJobNotFound         = fmt.Errorf("job: %w", ErrNotFound)
	ErrUnsupportedDType    = fmt.Errorf("dtype: %w", ErrUnsupported)
	ErrUnsupportedGeometry = fmt.Errorf("geometry type: %w", ErrUnsupported)
	ErrUnsupportedCRS      = fmt.Errorf("crs: %w", ErrUnsupported)
	ErrUnsupportedFormat   = fmt.Errorf("raster format: %w", ErrUnsupported)
	ErrShapeMismatch       = fmt.Errorf("shape mismatch: %w", ErrInvalidInput)
	ErrCRSMismatch         = fmt.Errorf("crs mismatch: %w", ErrInvalidInput)
	ErrBandMismatch        = fmt.Errorf("band count mismatch: %w", ErrInvalidInput)
	ErrNotWGS84            = fmt.Errorf("geojson export requires EPSG:4326: %w", ErrInvalidInput)
	ErrEmptyMerge          = fmt.Errorf("merge without windows: %w", ErrInvalidInput)
	ErrInvalidTransition   = fmt.Errorf("job status transition: %w", ErrInvalidInput)
	ErrDuplicate           = errors.New("duplicate record")
	ErrStorageUnavailable  = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MaxRetriesExceededError is returned once a retried call gives up.
type MaxRetriesExceededError struct {
	Operation string // Operation that was retried
	Attempts  int    // Number of attempts made
	Err       error  // Last error seen
}

// Error implements the error interface.
func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

// Unwrap returns the last underlying error.
func (e *MaxRetriesExceededError) Unwrap() error {
	return e.Err
}

// InferenceError represents a failed predictor call.
type InferenceError struct {
	StatusCode int   // HTTP status, 0 for in-process predictors
	Err        error // Underlying error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *InferenceError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (put, list, read)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnavailable)
}
