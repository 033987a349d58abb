package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// Resampling is the pixel interpolation used when warping.
type Resampling string

// Supported resampling algorithms.
const (
	Nearest  Resampling = "nearest"
	Bilinear Resampling = "bilinear"
)

// ParseResampling validates a resampling name. Empty means nearest.
func ParseResampling(s string) (Resampling, error) {
	switch r := Resampling(strings.ToLower(strings.TrimSpace(s))); r {
	case "", Nearest:
		return Nearest, nil
	case Bilinear:
		return Bilinear, nil
	}
	return "", fmt.Errorf("resampling %q: %w", s, domain.ErrUnsupported)
}

// edgeSamples is the number of points sampled along each edge of the source
// footprint when computing the target extent.
const edgeSamples = 21

// Reproject warps rasters into the target CRS on a default north-up grid.
type Reproject struct {
	Target      int
	Resampling  Resampling
	Bands       []int // 1-based, empty means all
	Transformer output.CoordinateTransformer
}

// Name implements Operation.
func (rp Reproject) Name() string {
	return "reproject"
}

// Apply implements Operation.
func (rp Reproject) Apply(ctx context.Context, in Seq) Seq {
	resampling, err := ParseResampling(string(rp.Resampling))
	if err != nil {
		return failed(err)
	}
	rp.Resampling = resampling
	return mapWindows(ctx, in, func(r *raster.Raster) (*raster.Raster, error) {
		return rp.reproject(ctx, r)
	})
}

func (rp Reproject) reproject(ctx context.Context, r *raster.Raster) (*raster.Raster, error) {
	if len(rp.Bands) > 0 {
		var err error
		if r, err = (BandSelect{Bands: rp.Bands}).selectBands(r); err != nil {
			return nil, err
		}
	}
	if r.CRS() == rp.Target || rp.Target == 0 {
		return r, nil
	}
	if r.CRS() == 0 {
		return nil, fmt.Errorf("raster without CRS: %w", domain.ErrUnsupportedCRS)
	}
	if !rp.Transformer.IsSupported(r.CRS(), rp.Target) {
		return nil, fmt.Errorf("EPSG:%d -> EPSG:%d: %w", r.CRS(), rp.Target, domain.ErrUnsupportedCRS)
	}

	src := r.Grid()
	dstTransform, height, width, err := rp.defaultGrid(ctx, src)
	if err != nil {
		return nil, err
	}
	srcInv, err := src.Transform.Invert()
	if err != nil {
		return nil, err
	}

	dst := src.Like(height, width, len(src.Bands), dstTransform)
	dst.CRS = rp.Target
	fill := src.FillValue()

	row := make([]orb.Point, width)
	for y := 0; y < height; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < width; x++ {
			row[x] = dstTransform.PixelCenter(y, x)
		}
		srcPts, err := rp.Transformer.Transform(ctx, row, rp.Target, src.CRS)
		if err != nil {
			return nil, err
		}
		for x, p := range srcPts {
			fc, fr := srcInv.Apply(p[0], p[1])
			for b := range src.Bands {
				dst.Bands[b][y*width+x] = sample(src, b, fr, fc, rp.Resampling, fill)
			}
		}
	}
	return raster.FromGrid(dst, domain.HeightWidth{})
}

// defaultGrid computes a north-up target grid that covers the transformed
// footprint with roughly the same number of pixels along the diagonal.
func (rp Reproject) defaultGrid(ctx context.Context, src *raster.Grid) (domain.Affine, int, int, error) {
	pts := make([]orb.Point, 0, 4*edgeSamples)
	h, w := float64(src.Height), float64(src.Width)
	for i := 0; i < edgeSamples; i++ {
		f := float64(i) / float64(edgeSamples-1)
		for _, pix := range [4][2]float64{{f * w, 0}, {w, f * h}, {(1 - f) * w, h}, {0, (1 - f) * h}} {
			x, y := src.Transform.Apply(pix[0], pix[1])
			pts = append(pts, orb.Point{x, y})
		}
	}
	dstPts, err := rp.Transformer.Transform(ctx, pts, src.CRS, rp.Target)
	if err != nil {
		return domain.Affine{}, 0, 0, err
	}
	bound := orb.MultiPoint(dstPts).Bound()
	extentW, extentH := bound.Max[0]-bound.Min[0], bound.Max[1]-bound.Min[1]
	if !(extentW > 0) || !(extentH > 0) {
		return domain.Affine{}, 0, 0, fmt.Errorf("degenerate target extent %v: %w", bound, domain.ErrInvalidInput)
	}

	res := math.Hypot(extentW, extentH) / math.Hypot(w, h)
	width := max(int(math.Ceil(extentW/res-1e-9)), 1)
	height := max(int(math.Ceil(extentH/res-1e-9)), 1)
	return domain.NorthUp(bound.Min[0], bound.Max[1], res), height, width, nil
}

// sample reads band b at the fractional pixel position (row, col) measured
// from the upper-left corner of the grid.
func sample(g *raster.Grid, b int, row, col float64, resampling Resampling, fill float64) float64 {
	if row < 0 || col < 0 || row >= float64(g.Height) || col >= float64(g.Width) {
		return fill
	}
	if resampling != Bilinear {
		return g.At(b, int(row), int(col))
	}

	// Pixel centers sit at half-integer positions.
	y := math.Min(math.Max(row-0.5, 0), float64(g.Height-1))
	x := math.Min(math.Max(col-0.5, 0), float64(g.Width-1))
	y0, x0 := int(y), int(x)
	y1, x1 := min(y0+1, g.Height-1), min(x0+1, g.Width-1)
	fy, fx := y-float64(y0), x-float64(x0)

	v00, v01 := g.At(b, y0, x0), g.At(b, y0, x1)
	v10, v11 := g.At(b, y1, x0), g.At(b, y1, x1)
	for _, v := range [4]float64{v00, v01, v10, v11} {
		if g.IsNoData(v) {
			return g.At(b, int(row), int(col))
		}
	}
	top := v00 + fx*(v01-v00)
	bottom := v10 + fx*(v11-v10)
	return top + fy*(bottom-top)
}
