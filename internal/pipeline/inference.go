package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// Inference runs the predictor on every window and turns its float32
// response into a single band raster with the window's georeferencing.
type Inference struct {
	Predictor output.Predictor
}

// Name implements Operation.
func (inf Inference) Name() string {
	return "inference"
}

// Apply implements Operation.
func (inf Inference) Apply(ctx context.Context, in Seq) Seq {
	return mapWindows(ctx, in, func(r *raster.Raster) (*raster.Raster, error) {
		return inf.predict(ctx, r)
	})
}

func (inf Inference) predict(ctx context.Context, r *raster.Raster) (*raster.Raster, error) {
	resp, err := inf.Predictor.Predict(ctx, r.Content())
	if err != nil {
		return nil, err
	}
	return decodePrediction(r, resp)
}

// decodePrediction reshapes a raw little-endian float32 payload to the
// window's height and width.
func decodePrediction(r *raster.Raster, payload []byte) (*raster.Raster, error) {
	size := r.Size()
	want := size.Height * size.Width * 4
	if len(payload) != want {
		return nil, fmt.Errorf("prediction has %d bytes, want %d for %s: %w",
			len(payload), want, size, domain.ErrShapeMismatch)
	}
	g := raster.NewGrid(size.Height, size.Width, 1, domain.Float32, r.CRS(), r.Transform())
	band := g.Bands[0]
	for i := range band {
		band[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
	}
	return raster.FromGrid(g, r.PaddingSize())
}
