package pipeline

import (
	"context"
	"math"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// DTypeConvert linearly rescales pixel values from their observed
// [min, max] into the target dtype's range. The scale factor depends on the
// data of each raster.
type DTypeConvert struct {
	Target domain.DType
}

// Name implements Operation.
func (c DTypeConvert) Name() string {
	return "dtype_convert"
}

// Apply implements Operation.
func (c DTypeConvert) Apply(ctx context.Context, in Seq) Seq {
	if !c.Target.Valid() {
		return failed(domain.ErrUnsupportedDType)
	}
	return mapWindows(ctx, in, c.convert)
}

func (c DTypeConvert) convert(r *raster.Raster) (*raster.Raster, error) {
	if r.DType() == c.Target {
		return r, nil
	}
	g := r.Grid()
	out := g.Clone()
	out.DType = c.Target
	out.HasNoData = false
	out.NoData = 0

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, band := range g.Bands {
		for _, v := range band {
			if g.IsNoData(v) || math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}

	tmin, tmax := c.Target.Range()
	scale := 0.0
	if hi > lo {
		scale = (tmax - tmin) / (hi - lo)
	}
	for b, band := range g.Bands {
		dst := out.Bands[b]
		for i, v := range band {
			if g.IsNoData(v) || math.IsNaN(v) || scale == 0 {
				dst[i] = tmin
				continue
			}
			dst[i] = c.Target.Clamp(math.Min(math.Max(tmin+(v-lo)*scale, tmin), tmax))
		}
	}
	return raster.FromGrid(out, r.PaddingSize())
}
