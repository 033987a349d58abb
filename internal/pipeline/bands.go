package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// BandSelect keeps the listed 1-based bands in the given order.
type BandSelect struct {
	Bands []int
}

// Name implements Operation.
func (s BandSelect) Name() string {
	return "band_select"
}

// Apply implements Operation.
func (s BandSelect) Apply(ctx context.Context, in Seq) Seq {
	return mapWindows(ctx, in, s.selectBands)
}

func (s BandSelect) selectBands(r *raster.Raster) (*raster.Raster, error) {
	if len(s.Bands) == 0 {
		return r, nil
	}
	g := r.Grid()
	bands := make([][]float64, len(s.Bands))
	for i, b := range s.Bands {
		if b < 1 || b > len(g.Bands) {
			return nil, &domain.ValidationError{
				Field:      "bands",
				Value:      b,
				Constraint: fmt.Sprintf("[1, %d]", len(g.Bands)),
				Message:    "selected band not in raster",
			}
		}
		bands[i] = g.Bands[b-1]
	}
	g.Bands = bands
	return raster.FromGrid(g, r.PaddingSize())
}

// RemoveBand drops one 1-based band. A band that is not present is logged
// and the raster passes through unchanged.
type RemoveBand struct {
	Band   int
	Logger *slog.Logger
}

// Name implements Operation.
func (rb RemoveBand) Name() string {
	return "remove_band"
}

// Apply implements Operation.
func (rb RemoveBand) Apply(ctx context.Context, in Seq) Seq {
	return mapWindows(ctx, in, rb.remove)
}

func (rb RemoveBand) remove(r *raster.Raster) (*raster.Raster, error) {
	if rb.Band < 1 || rb.Band > r.BandCount() {
		if rb.Logger != nil {
			rb.Logger.Warn("band not found, skipping removal",
				"band", rb.Band, "bands", r.BandCount())
		}
		return r, nil
	}
	g := r.Grid()
	g.Bands = append(g.Bands[:rb.Band-1], g.Bands[rb.Band:]...)
	return raster.FromGrid(g, r.PaddingSize())
}
