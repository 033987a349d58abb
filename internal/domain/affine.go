package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Affine maps pixel (col, row) positions to CRS coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// The coefficient order matches GDAL's (C, A, B, F, D, E) geotransform
// rearranged the way rasterio prints it.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// NorthUp returns the transform of an unrotated raster whose upper-left
// corner is at (originX, originY) with square pixels of size res.
func NorthUp(originX, originY, res float64) Affine {
	return Affine{A: res, C: originX, E: -res, F: originY}
}

// Apply maps a fractional pixel position to CRS coordinates.
func (t Affine) Apply(col, row float64) (float64, float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// PixelCenter returns the CRS coordinate of the center of pixel (row, col).
func (t Affine) PixelCenter(row, col int) orb.Point {
	x, y := t.Apply(float64(col)+0.5, float64(row)+0.5)
	return orb.Point{x, y}
}

// Determinant of the linear part.
func (t Affine) Determinant() float64 {
	return t.A*t.E - t.B*t.D
}

// Invert returns the transform mapping CRS coordinates back to pixels.
func (t Affine) Invert() (Affine, error) {
	det := t.Determinant()
	if det == 0 {
		return Affine{}, fmt.Errorf("degenerate transform %v: %w", t, ErrInvalidInput)
	}
	ia := t.E / det
	ib := -t.B / det
	id := -t.D / det
	ie := t.A / det
	return Affine{
		A: ia, B: ib, C: -ia*t.C - ib*t.F,
		D: id, E: ie, F: -id*t.C - ie*t.F,
	}, nil
}

// Translate shifts the origin by the given number of pixel rows and columns.
// Negative values move the origin up/left, which is what padding does.
func (t Affine) Translate(rows, cols int) Affine {
	x, y := t.Apply(float64(cols), float64(rows))
	out := t
	out.C = x
	out.F = y
	return out
}

// Resolution returns the square pixel size. Rotated transforms report the
// length of the column vector.
func (t Affine) Resolution() float64 {
	return math.Hypot(t.A, t.D)
}

// IsNorthUp reports whether the transform has no rotation terms.
func (t Affine) IsNorthUp() bool {
	return t.B == 0 && t.D == 0
}

// Bounds returns the bounding box of a height x width raster.
func (t Affine) Bounds(height, width int) BoundingBox {
	h, w := float64(height), float64(width)
	xs := [4]float64{}
	ys := [4]float64{}
	xs[0], ys[0] = t.Apply(0, 0)
	xs[1], ys[1] = t.Apply(w, 0)
	xs[2], ys[2] = t.Apply(w, h)
	xs[3], ys[3] = t.Apply(0, h)

	b := BoundingBox{MinX: xs[0], MinY: ys[0], MaxX: xs[0], MaxY: ys[0]}
	for i := 1; i < 4; i++ {
		b.MinX = math.Min(b.MinX, xs[i])
		b.MaxX = math.Max(b.MaxX, xs[i])
		b.MinY = math.Min(b.MinY, ys[i])
		b.MaxY = math.Max(b.MaxY, ys[i])
	}
	return b
}

func (t Affine) String() string {
	return fmt.Sprintf("|%g, %g, %g|\n|%g, %g, %g|", t.A, t.B, t.C, t.D, t.E, t.F)
}
