package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRaster builds a raster in EPSG:32651 with 10 m pixels whose values
// follow fn(band, row, col).
func newTestRaster(t *testing.T, h, w, bands int, dt domain.DType, fn func(b, row, col int) float64) *raster.Raster {
	t.Helper()
	g := raster.NewGrid(h, w, bands, dt, 32651, domain.NorthUp(500000, 1600000, 10))
	for b := range bands {
		for row := range h {
			for col := range w {
				g.Set(b, row, col, fn(b, row, col))
			}
		}
	}
	r, err := raster.FromGrid(g, domain.HeightWidth{})
	if err != nil {
		t.Fatalf("FromGrid() error = %v", err)
	}
	return r
}

func gradientValues(b, row, col int) float64 {
	return float64((row*31 + col*17 + b*7) % 251)
}

// floatPredictor answers with a float32 payload of the given length.
type floatPredictor struct {
	calls   atomic.Int32
	fn      func(payload []byte) ([]byte, error)
	failAt  int32
	failErr error
}

func (p *floatPredictor) Predict(_ context.Context, payload []byte) ([]byte, error) {
	n := p.calls.Add(1)
	if p.failAt > 0 && n == p.failAt {
		return nil, p.failErr
	}
	return p.fn(payload)
}

// firstBandPredictor returns band 1 of the payload as float32.
func firstBandPredictor() *floatPredictor {
	return &floatPredictor{fn: func(payload []byte) ([]byte, error) {
		g, err := raster.Decode(payload)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 4*len(g.Bands[0]))
		for i, v := range g.Bands[0] {
			binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(v)))
		}
		return out, nil
	}}
}

// shiftTransformer maps between a "source" CRS and a target CRS by adding a
// fixed offset, which makes reprojection results easy to predict.
type shiftTransformer struct {
	from, to int
	dx, dy   float64
	calls    atomic.Int32
}

func (s *shiftTransformer) IsSupported(from, to int) bool {
	return (from == s.from && to == s.to) || (from == s.to && to == s.from)
}

func (s *shiftTransformer) Transform(_ context.Context, pts []orb.Point, from, to int) ([]orb.Point, error) {
	s.calls.Add(1)
	if !s.IsSupported(from, to) {
		return nil, domain.ErrUnsupportedCRS
	}
	sign := 1.0
	if from == s.to {
		sign = -1
	}
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = orb.Point{p[0] + sign*s.dx, p[1] + sign*s.dy}
	}
	return out, nil
}

var errBoom = errors.New("boom")

func gridsEqual(t *testing.T, got, want *raster.Raster) {
	t.Helper()
	if got.Size() != want.Size() {
		t.Fatalf("size = %v, want %v", got.Size(), want.Size())
	}
	if got.Bounds() != want.Bounds() {
		t.Errorf("bounds = %v, want %v", got.Bounds(), want.Bounds())
	}
	if got.DType() != want.DType() || got.CRS() != want.CRS() || got.BandCount() != want.BandCount() {
		t.Errorf("metadata = %v, want %v", got, want)
	}
	gg, wg := got.Grid(), want.Grid()
	for b := range wg.Bands {
		for i := range wg.Bands[b] {
			if gg.Bands[b][i] != wg.Bands[b][i] {
				t.Fatalf("band %d pixel %d = %v, want %v", b+1, i, gg.Bands[b][i], wg.Bands[b][i])
			}
		}
	}
}
