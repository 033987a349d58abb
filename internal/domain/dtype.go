package domain

import (
	"fmt"
	"math"
	"strings"
)

// DType is the numeric kind of raster pixels.
type DType int

// Supported pixel types.
const (
	DTypeInvalid DType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var dtypeNames = map[DType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

// ParseDType parses the lower case numpy-style name of a dtype.
func ParseDType(s string) (DType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d, n := range dtypeNames {
		if n == name {
			return d, nil
		}
	}
	return DTypeInvalid, fmt.Errorf("%q: %w", s, ErrUnsupportedDType)
}

// String returns the dtype name.
func (d DType) String() string {
	if n, ok := dtypeNames[d]; ok {
		return n
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Valid reports whether d is one of the supported kinds.
func (d DType) Valid() bool {
	_, ok := dtypeNames[d]
	return ok
}

// Size returns the number of bytes of one sample.
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsInteger reports whether d is an integer kind.
func (d DType) IsInteger() bool {
	switch d {
	case Uint8, Int8, Uint16, Int16, Uint32, Int32:
		return true
	}
	return false
}

// IsSigned reports whether d can hold negative values.
func (d DType) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Float32, Float64:
		return true
	}
	return false
}

// Range returns the rescale target range: the full representable range for
// integer kinds and [0, 1] for floating kinds.
func (d DType) Range() (float64, float64) {
	switch d {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	}
	return 0, 1
}

// Clamp converts v into a value representable by d. Integer kinds round to
// nearest and saturate.
func (d DType) Clamp(v float64) float64 {
	switch d {
	case Float32:
		return float64(float32(v))
	case Float64:
		return v
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := d.Range()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
