package pipeline

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// ReprojectVectors transforms vectors into target. Geometries are reprojected
// on at most workers goroutines; the result keeps the input order.
func ReprojectVectors(ctx context.Context, t output.CoordinateTransformer, vectors []domain.Vector, target, workers int) ([]domain.Vector, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]domain.Vector, len(vectors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, v := range vectors {
		if v.CRS == target {
			out[i] = v
			continue
		}
		g.Go(func() error {
			geom, err := transformGeometry(gctx, t, v.Geometry, v.CRS, target)
			if err != nil {
				return fmt.Errorf("vector %d: %w", i, err)
			}
			out[i] = domain.Vector{Geometry: geom, CRS: target, PixelValue: v.PixelValue}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func transformGeometry(ctx context.Context, t output.CoordinateTransformer, geom orb.Geometry, from, to int) (orb.Geometry, error) {
	switch g := geom.(type) {
	case orb.Point:
		pts, err := t.Transform(ctx, []orb.Point{g}, from, to)
		if err != nil {
			return nil, err
		}
		return pts[0], nil
	case orb.Polygon:
		return transformPolygon(ctx, t, g, from, to)
	case orb.MultiPolygon:
		return transformMultiPolygon(ctx, t, g, from, to)
	case nil:
		return nil, &domain.ValidationError{Field: "geometry", Constraint: "non-nil", Message: "vector has no geometry"}
	}
	return nil, fmt.Errorf("%s: %w", geom.GeoJSONType(), domain.ErrUnsupportedGeometry)
}

// transformPolygon transforms all rings in one call.
func transformPolygon(ctx context.Context, t output.CoordinateTransformer, p orb.Polygon, from, to int) (orb.Polygon, error) {
	var pts []orb.Point
	for _, ring := range p {
		pts = append(pts, ring...)
	}
	moved, err := t.Transform(ctx, pts, from, to)
	if err != nil {
		return nil, err
	}
	if len(moved) != len(pts) {
		return nil, fmt.Errorf("transformer returned %d points for %d: %w", len(moved), len(pts), domain.ErrInternal)
	}
	out := make(orb.Polygon, len(p))
	i := 0
	for r, ring := range p {
		out[r] = make(orb.Ring, len(ring))
		for j := range ring {
			out[r][j] = moved[i]
			i++
		}
	}
	return out, nil
}

func transformMultiPolygon(ctx context.Context, t output.CoordinateTransformer, mp orb.MultiPolygon, from, to int) (orb.MultiPolygon, error) {
	out := make(orb.MultiPolygon, len(mp))
	for i, p := range mp {
		tp, err := transformPolygon(ctx, t, p, from, to)
		if err != nil {
			return nil, err
		}
		out[i] = tp
	}
	return out, nil
}
