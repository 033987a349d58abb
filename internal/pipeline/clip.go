package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// Clip masks rasters with a polygon. Pixels whose center falls outside the
// mask are set to nodata (zero without nodata). With Crop the output is
// also shrunk to the mask's extent.
type Clip struct {
	Mask        orb.Geometry
	MaskCRS     int // 0 means the raster's CRS
	Crop        bool
	Transformer output.CoordinateTransformer
}

// Name implements Operation.
func (c Clip) Name() string {
	return "clip"
}

// Apply implements Operation.
func (c Clip) Apply(ctx context.Context, in Seq) Seq {
	mask, err := asMultiPolygon(c.Mask)
	if err != nil {
		return failed(err)
	}
	return mapWindows(ctx, in, func(r *raster.Raster) (*raster.Raster, error) {
		return c.clip(ctx, r, mask)
	})
}

func asMultiPolygon(g orb.Geometry) (orb.MultiPolygon, error) {
	switch m := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{m}, nil
	case orb.MultiPolygon:
		return m, nil
	case orb.Bound:
		return orb.MultiPolygon{m.ToPolygon()}, nil
	case nil:
		return nil, &domain.ValidationError{Field: "mask", Constraint: "non-nil", Message: "clip mask missing"}
	}
	return nil, fmt.Errorf("clip mask %s: %w", g.GeoJSONType(), domain.ErrUnsupportedGeometry)
}

func (c Clip) clip(ctx context.Context, r *raster.Raster, mask orb.MultiPolygon) (*raster.Raster, error) {
	if c.MaskCRS != 0 && c.MaskCRS != r.CRS() {
		var err error
		if mask, err = transformMultiPolygon(ctx, c.Transformer, mask, c.MaskCRS, r.CRS()); err != nil {
			return nil, err
		}
	}

	g := r.Grid()
	if c.Crop {
		area, ok := r.Bounds().Intersect(domain.BoundingBoxFromBound(mask.Bound()))
		if !ok {
			return nil, &domain.ValidationError{
				Field:      "mask",
				Value:      mask.Bound(),
				Constraint: fmt.Sprintf("intersects %s", r.Bounds()),
				Message:    "clip mask does not overlap raster",
			}
		}
		win, err := pixelWindow(g, area)
		if err != nil {
			return nil, err
		}
		if g, err = g.Crop(win.Row, win.Col, win.Height, win.Width); err != nil {
			return nil, err
		}
	}

	bound := mask.Bound()
	fill := g.FillValue()
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			p := g.Transform.PixelCenter(y, x)
			if bound.Contains(p) && planar.MultiPolygonContains(mask, p) {
				continue
			}
			for b := range g.Bands {
				g.Set(b, y, x, fill)
			}
		}
	}
	return raster.FromGrid(g, r.PaddingSize())
}

// pixelWindow returns the pixels of g touched by box.
func pixelWindow(g *raster.Grid, box domain.BoundingBox) (PixelWindow, error) {
	inv, err := g.Transform.Invert()
	if err != nil {
		return PixelWindow{}, err
	}
	minR, minC := math.Inf(1), math.Inf(1)
	maxR, maxC := math.Inf(-1), math.Inf(-1)
	for _, p := range box.Polygon()[0] {
		c, r := inv.Apply(p[0], p[1])
		minR, maxR = math.Min(minR, r), math.Max(maxR, r)
		minC, maxC = math.Min(minC, c), math.Max(maxC, c)
	}
	const eps = 1e-9
	r0 := max(int(math.Floor(minR+eps)), 0)
	c0 := max(int(math.Floor(minC+eps)), 0)
	r1 := min(int(math.Ceil(maxR-eps)), g.Height)
	c1 := min(int(math.Ceil(maxC-eps)), g.Width)
	if r1 <= r0 || c1 <= c0 {
		return PixelWindow{}, fmt.Errorf("clip window below one pixel: %w", domain.ErrInvalidInput)
	}
	return PixelWindow{Row: r0, Col: c0, Height: r1 - r0, Width: c1 - c0}, nil
}
