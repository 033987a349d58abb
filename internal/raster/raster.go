package raster

import (
	"bytes"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
)

// Raster is an immutable, encoded raster plus the metadata derived from it.
// Content and metadata are always produced together, so the geometry can
// never drift from the encoded transform.
type Raster struct {
	content []byte
	grid    *Grid
	padding domain.HeightWidth
}

// New decodes content into a Raster without padding.
func New(content []byte) (*Raster, error) {
	g, err := Decode(content)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Raster{content: bytes.Clone(content), grid: g}, nil
}

// FromGrid encodes g. The grid is copied, so the caller may keep mutating it.
func FromGrid(g *Grid, padding domain.HeightWidth) (*Raster, error) {
	if padding.Height < 0 || padding.Width < 0 {
		return nil, &domain.ValidationError{
			Field:      "padding_size",
			Value:      padding,
			Constraint: ">= 0",
			Message:    "padding cannot be negative",
		}
	}
	c := g.Clone()
	c.normalize()
	content, err := Encode(c)
	if err != nil {
		return nil, err
	}
	return &Raster{content: content, grid: c, padding: padding}, nil
}

// Content returns a copy of the encoded GeoTIFF bytes.
func (r *Raster) Content() []byte {
	return bytes.Clone(r.content)
}

// ContentSize returns the encoded length in bytes.
func (r *Raster) ContentSize() int {
	return len(r.content)
}

// Grid returns a mutable copy of the decoded pixels.
func (r *Raster) Grid() *Grid {
	return r.grid.Clone()
}

// Size returns the pixel dimensions.
func (r *Raster) Size() domain.HeightWidth {
	return r.grid.Size()
}

// DType returns the pixel type.
func (r *Raster) DType() domain.DType {
	return r.grid.DType
}

// CRS returns the EPSG code.
func (r *Raster) CRS() int {
	return r.grid.CRS
}

// BandCount returns the number of bands.
func (r *Raster) BandCount() int {
	return len(r.grid.Bands)
}

// Bands returns the 1-based band indices.
func (r *Raster) Bands() []int {
	out := make([]int, len(r.grid.Bands))
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// Transform returns the affine pixel to CRS transform.
func (r *Raster) Transform() domain.Affine {
	return r.grid.Transform
}

// Resolution returns the pixel size in CRS units.
func (r *Raster) Resolution() float64 {
	return r.grid.Transform.Resolution()
}

// Bounds returns the footprint in the raster's CRS.
func (r *Raster) Bounds() domain.BoundingBox {
	return r.grid.Bounds()
}

// Geometry returns the footprint polygon in the raster's CRS.
func (r *Raster) Geometry() orb.Polygon {
	return r.Bounds().Polygon()
}

// NoData returns the nodata value and whether one is set.
func (r *Raster) NoData() (float64, bool) {
	return r.grid.NoData, r.grid.HasNoData
}

// PaddingSize returns the padding added before each axis.
func (r *Raster) PaddingSize() domain.HeightWidth {
	return r.padding
}

// Equal reports whether both rasters encode the same pixels, georeferencing
// and padding.
func (r *Raster) Equal(o *Raster) bool {
	return r.padding == o.padding && bytes.Equal(r.content, o.content)
}

func (r *Raster) String() string {
	return fmt.Sprintf("Raster(%s, %v, EPSG:%d, bands=%d, padding=%s)",
		r.Size(), r.DType(), r.CRS(), r.BandCount(), r.padding)
}
