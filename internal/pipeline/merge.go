package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// DefaultSigma is the gaussian sigma, in pixels, of the smoothing blends.
const DefaultSigma = 2.0

// resolutionTolerance is the relative difference allowed between the pixel
// sizes of merged windows.
const resolutionTolerance = 1e-9

// Merge mosaics all windows of the input into one raster covering the union
// of their footprints. Nothing is produced unless every window arrived.
type Merge struct {
	Blend Blend
	Sigma float64
}

// Name implements Operation.
func (m Merge) Name() string {
	return "merge"
}

// Apply implements Operation.
func (m Merge) Apply(ctx context.Context, in Seq) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		var windows []*raster.Raster
		for r, err := range in {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			windows = append(windows, r)
		}
		yield(m.merge(windows))
	}
}

// placement is a window's pixel offset in the mosaic.
type placement struct {
	grid     *raster.Grid
	row, col int
}

func (m Merge) merge(windows []*raster.Raster) (*raster.Raster, error) {
	if len(windows) == 0 {
		return nil, domain.ErrEmptyMerge
	}
	blend := m.Blend
	if blend == "" {
		blend = BlendFirst
	}
	if _, err := ParseBlend(string(blend)); err != nil {
		return nil, err
	}
	sigma := m.Sigma
	if sigma <= 0 {
		sigma = DefaultSigma
	}

	first := windows[0].Grid()
	if !first.Transform.IsNorthUp() {
		return nil, fmt.Errorf("merging rotated rasters: %w", domain.ErrUnsupported)
	}
	inv, err := first.Transform.Invert()
	if err != nil {
		return nil, err
	}

	places := make([]placement, len(windows))
	minRow, minCol := math.MaxInt, math.MaxInt
	maxRow, maxCol := math.MinInt, math.MinInt
	for i, w := range windows {
		g := first
		if i > 0 {
			g = w.Grid()
			if err := compatible(first, g, i); err != nil {
				return nil, err
			}
		}
		fc, fr := inv.Apply(g.Transform.C, g.Transform.F)
		p := placement{grid: g, row: int(math.Round(fr)), col: int(math.Round(fc))}
		places[i] = p
		minRow, minCol = min(minRow, p.row), min(minCol, p.col)
		maxRow, maxCol = max(maxRow, p.row+g.Height), max(maxCol, p.col+g.Width)
	}

	height, width := maxRow-minRow, maxCol-minCol
	out := first.Like(height, width, len(first.Bands), first.Transform.Translate(minRow, minCol))
	fill := first.FillValue()
	if fill != 0 {
		for _, band := range out.Bands {
			for i := range band {
				band[i] = fill
			}
		}
	}

	// Coverage is per band; nodata is decided per sample.
	covered := make([][]bool, len(out.Bands))
	for b := range covered {
		covered[b] = make([]bool, height*width)
	}
	for _, p := range places {
		p.row -= minRow
		p.col -= minCol
		for b := range out.Bands {
			switch blend {
			case BlendSmoothOverlap:
				blendSmoothOverlap(out, covered[b], p, b, sigma)
			case BlendCopySmooth:
				blendCopySmooth(out, covered[b], p, b, sigma)
			default:
				blendFirst(out, covered[b], p, b)
			}
		}
	}
	return raster.FromGrid(out, domain.HeightWidth{})
}

func compatible(first, g *raster.Grid, i int) error {
	if g.CRS != first.CRS {
		return fmt.Errorf("window %d in EPSG:%d, first in EPSG:%d: %w", i, g.CRS, first.CRS, domain.ErrCRSMismatch)
	}
	if len(g.Bands) != len(first.Bands) {
		return fmt.Errorf("window %d has %d bands, first has %d: %w", i, len(g.Bands), len(first.Bands), domain.ErrBandMismatch)
	}
	if g.DType != first.DType {
		return &domain.ValidationError{
			Field:      "dtype",
			Value:      g.DType.String(),
			Constraint: first.DType.String(),
			Message:    fmt.Sprintf("window %d dtype differs from first window", i),
		}
	}
	a, b := first.Transform, g.Transform
	if !closeTo(a.A, b.A) || !closeTo(a.E, b.E) || !closeTo(a.B, b.B) || !closeTo(a.D, b.D) {
		return &domain.ValidationError{
			Field:      "resolution",
			Value:      b.Resolution(),
			Constraint: fmt.Sprintf("%g", a.Resolution()),
			Message:    fmt.Sprintf("window %d pixel grid differs from first window", i),
		}
	}
	return nil
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= resolutionTolerance*math.Max(math.Abs(a), math.Abs(b))
}

// valid reports whether sample i of band b holds data.
func valid(g *raster.Grid, b, i int) bool {
	return !g.IsNoData(g.Bands[b][i])
}

// blendFirst keeps the first value written to every pixel of band b.
func blendFirst(out *raster.Grid, covered []bool, p placement, b int) {
	g := p.grid
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			si := y*g.Width + x
			di := (p.row+y)*out.Width + p.col + x
			if covered[di] || !valid(g, b, si) {
				continue
			}
			out.Bands[b][di] = g.Bands[b][si]
			covered[di] = true
		}
	}
}

// overlapMask marks window samples of band b holding data where the mosaic
// already has data. It reports whether any sample overlaps.
func overlapMask(out *raster.Grid, covered []bool, p placement, b int) ([]bool, bool) {
	g := p.grid
	mask := make([]bool, g.Width*g.Height)
	found := false
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			si := y*g.Width + x
			if covered[(p.row+y)*out.Width+p.col+x] && valid(g, b, si) {
				mask[si] = true
				found = true
			}
		}
	}
	return mask, found
}

// blendSmoothOverlap cross-fades the overlap using weights derived from the
// blurred gradient of the overlap mask.
func blendSmoothOverlap(out *raster.Grid, covered []bool, p placement, b int, sigma float64) {
	g := p.grid
	mask, overlaps := overlapMask(out, covered, p, b)
	var weights []float64
	if overlaps {
		weights = overlapWeights(mask, g.Height, g.Width, sigma)
	}
	src, dst := g.Bands[b], out.Bands[b]
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			si := y*g.Width + x
			di := (p.row+y)*out.Width + p.col + x
			if !valid(g, b, si) {
				continue
			}
			if mask[si] {
				old := dst[di]
				dst[di] = old + weights[si]*(src[si]-old)
				continue
			}
			dst[di] = src[si]
			covered[di] = true
		}
	}
}

// blendCopySmooth adds the blurred difference between the incoming window and
// the mosaic inside the overlap and copies the window elsewhere.
func blendCopySmooth(out *raster.Grid, covered []bool, p placement, b int, sigma float64) {
	g := p.grid
	mask, overlaps := overlapMask(out, covered, p, b)
	src, dst := g.Bands[b], out.Bands[b]
	var delta []float64
	if overlaps {
		d := make([]float64, len(mask))
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				si := y*g.Width + x
				if mask[si] {
					d[si] = src[si] - dst[(p.row+y)*out.Width+p.col+x]
				}
			}
		}
		delta = gaussianBlur(d, g.Height, g.Width, sigma)
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			si := y*g.Width + x
			di := (p.row+y)*out.Width + p.col + x
			if !valid(g, b, si) {
				continue
			}
			if mask[si] {
				dst[di] += delta[si]
				continue
			}
			dst[di] = src[si]
			covered[di] = true
		}
	}
}
