package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:      "window_height",
		Value:      0,
		Constraint: "> 0",
		Message:    "window height must be positive",
	}

	got := err.Error()
	if got == "" {
		t.Error("Error() should not return empty string")
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should unwrap to ErrInvalidInput")
	}
}

func TestMaxRetriesExceededError(t *testing.T) {
	cause := fmt.Errorf("throttled: %w", ErrTransient)
	err := &MaxRetriesExceededError{
		Operation: "inference",
		Attempts:  4,
		Err:       cause,
	}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}
	if !errors.Is(err, ErrTransient) {
		t.Error("MaxRetriesExceededError should unwrap to the last error")
	}

	var target *MaxRetriesExceededError
	wrapped := fmt.Errorf("window 3: %w", err)
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find MaxRetriesExceededError")
	}
	if target.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", target.Attempts)
	}
}

func TestInferenceError(t *testing.T) {
	tests := []struct {
		name string
		err  *InferenceError
	}{
		{
			name: "with status",
			err:  &InferenceError{StatusCode: 503, Err: ErrTransient},
		},
		{
			name: "in-process",
			err:  &InferenceError{Err: errors.New("bad payload")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() == "" {
				t.Error("Error() should not return empty string")
			}
			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  *StorageError
	}{
		{
			name: "with key",
			err: &StorageError{
				Operation: "put",
				Key:       "scenes/s2a.tif",
				Err:       errors.New("network error"),
			},
		},
		{
			name: "without key",
			err: &StorageError{
				Operation: "list",
				Err:       errors.New("access denied"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got == "" {
				t.Error("Error() should not return empty string")
			}

			if !errors.Is(tt.err, tt.err.Err) {
				t.Error("Unwrap should return the underlying error")
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "pipeline.blend",
		Message: "unknown blend strategy",
	}

	if err.Error() == "" {
		t.Error("Error() should not return empty string")
	}

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ConfigError should unwrap to ErrInvalidInput")
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"ErrJobNotFound", ErrJobNotFound, ErrNotFound},
		{"ErrUnsupportedDType", ErrUnsupportedDType, ErrUnsupported},
		{"ErrUnsupportedGeometry", ErrUnsupportedGeometry, ErrUnsupported},
		{"ErrUnsupportedCRS", ErrUnsupportedCRS, ErrUnsupported},
		{"ErrShapeMismatch", ErrShapeMismatch, ErrInvalidInput},
		{"ErrCRSMismatch", ErrCRSMismatch, ErrInvalidInput},
		{"ErrBandMismatch", ErrBandMismatch, ErrInvalidInput},
		{"ErrNotWGS84", ErrNotWGS84, ErrInvalidInput},
		{"ErrInvalidTransition", ErrInvalidTransition, ErrInvalidInput},
		{"ErrStorageUnavailable", ErrStorageUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("%s should wrap %v", tt.name, tt.wantErr)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", fmt.Errorf("429: %w", ErrTransient), true},
		{"unavailable", ErrStorageUnavailable, true},
		{"validation", ErrShapeMismatch, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
