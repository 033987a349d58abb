// Package raster holds the decoded pixel grid, its GeoTIFF encoding and the
// immutable Raster value that flows through the pipeline.
package raster

import (
	"fmt"
	"math"
	"slices"

	"github.com/jobrunner/flotsam/internal/domain"
)

// Grid is a decoded, mutable raster: one row-major plane per band. Values are
// kept as float64, which represents every supported dtype exactly.
type Grid struct {
	Width     int
	Height    int
	DType     domain.DType
	CRS       int
	Transform domain.Affine
	NoData    float64
	HasNoData bool
	Bands     [][]float64
}

// NewGrid allocates a zero-filled grid.
func NewGrid(height, width, bands int, dtype domain.DType, crs int, transform domain.Affine) *Grid {
	g := &Grid{
		Width:     width,
		Height:    height,
		DType:     dtype,
		CRS:       crs,
		Transform: transform,
		Bands:     make([][]float64, bands),
	}
	for i := range g.Bands {
		g.Bands[i] = make([]float64, width*height)
	}
	return g
}

// Validate checks the structural invariants of the grid.
func (g *Grid) Validate() error {
	if !g.DType.Valid() {
		return fmt.Errorf("%v: %w", g.DType, domain.ErrUnsupportedDType)
	}
	if g.Width <= 0 || g.Height <= 0 {
		return &domain.ValidationError{
			Field:      "size",
			Value:      domain.HeightWidth{Height: g.Height, Width: g.Width},
			Constraint: "> 0",
			Message:    "raster must have at least one pixel",
		}
	}
	if len(g.Bands) == 0 {
		return &domain.ValidationError{
			Field:      "bands",
			Value:      0,
			Constraint: ">= 1",
			Message:    "raster must have at least one band",
		}
	}
	for i, b := range g.Bands {
		if len(b) != g.Width*g.Height {
			return fmt.Errorf("band %d has %d samples, want %d: %w",
				i+1, len(b), g.Width*g.Height, domain.ErrShapeMismatch)
		}
	}
	return nil
}

// Size returns the pixel dimensions.
func (g *Grid) Size() domain.HeightWidth {
	return domain.HeightWidth{Height: g.Height, Width: g.Width}
}

// Bounds returns the footprint in CRS units.
func (g *Grid) Bounds() domain.BoundingBox {
	return g.Transform.Bounds(g.Height, g.Width)
}

// At returns the value of band b (0-based) at (row, col).
func (g *Grid) At(b, row, col int) float64 {
	return g.Bands[b][row*g.Width+col]
}

// Set assigns the value of band b (0-based) at (row, col).
func (g *Grid) Set(b, row, col int, v float64) {
	g.Bands[b][row*g.Width+col] = v
}

// IsNoData reports whether v is the nodata value of the grid.
func (g *Grid) IsNoData(v float64) bool {
	if !g.HasNoData {
		return false
	}
	if math.IsNaN(g.NoData) {
		return math.IsNaN(v)
	}
	return v == g.NoData
}

// FillValue is the value used for pixels outside valid data.
func (g *Grid) FillValue() float64 {
	if g.HasNoData {
		return g.NoData
	}
	return 0
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Bands = make([][]float64, len(g.Bands))
	for i, b := range g.Bands {
		c.Bands[i] = slices.Clone(b)
	}
	return &c
}

// Like returns a zero-filled grid with the same metadata but a new size,
// band count and transform.
func (g *Grid) Like(height, width, bands int, transform domain.Affine) *Grid {
	out := NewGrid(height, width, bands, g.DType, g.CRS, transform)
	out.NoData = g.NoData
	out.HasNoData = g.HasNoData
	return out
}

// Crop returns the sub-grid starting at (row, col). The window must lie within
// the grid.
func (g *Grid) Crop(row, col, height, width int) (*Grid, error) {
	if row < 0 || col < 0 || height <= 0 || width <= 0 ||
		row+height > g.Height || col+width > g.Width {
		return nil, &domain.ValidationError{
			Field:      "window",
			Value:      fmt.Sprintf("row=%d col=%d %dx%d", row, col, height, width),
			Constraint: fmt.Sprintf("within %dx%d", g.Height, g.Width),
			Message:    "crop window outside raster",
		}
	}
	out := g.Like(height, width, len(g.Bands), g.Transform.Translate(row, col))
	for b := range g.Bands {
		for r := 0; r < height; r++ {
			src := g.Bands[b][(row+r)*g.Width+col : (row+r)*g.Width+col+width]
			copy(out.Bands[b][r*width:(r+1)*width], src)
		}
	}
	return out, nil
}

// normalize rounds and saturates every value into the grid's dtype so the
// in-memory values equal what the encoded bytes hold.
func (g *Grid) normalize() {
	for _, b := range g.Bands {
		for i, v := range b {
			b[i] = g.DType.Clamp(v)
		}
	}
}
