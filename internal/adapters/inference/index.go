package inference

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// IndexPredictor scores floating material with the normalised difference
// (nir - red) / (nir + red), rescaled from [-1, 1] to [0, 1]. Band positions
// are 1-based and refer to the bands of the window it receives.
type IndexPredictor struct {
	red int
	nir int
}

// NewIndexPredictor creates an index predictor.
func NewIndexPredictor(redBand, nirBand int) (*IndexPredictor, error) {
	if redBand < 1 || nirBand < 1 || redBand == nirBand {
		return nil, &domain.ValidationError{
			Field:      "bands",
			Value:      []int{redBand, nirBand},
			Constraint: "distinct, >= 1",
			Message:    "red and nir band positions must be distinct",
		}
	}
	return &IndexPredictor{red: redBand, nir: nirBand}, nil
}

// Predict implements output.Predictor.
func (p *IndexPredictor) Predict(ctx context.Context, payload []byte) ([]byte, error) {
	g, err := raster.Decode(payload)
	if err != nil {
		return nil, &domain.InferenceError{Err: err}
	}
	if n := len(g.Bands); p.red > n || p.nir > n {
		return nil, &domain.InferenceError{
			Err: fmt.Errorf("window has %d bands, need %d and %d: %w", n, p.red, p.nir, domain.ErrBandMismatch),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	red, nir := g.Bands[p.red-1], g.Bands[p.nir-1]
	out := make([]byte, 4*len(red))
	for i := range red {
		var score float64
		if !g.IsNoData(red[i]) && !g.IsNoData(nir[i]) {
			score = index(red[i], nir[i])
		}
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(float32(score)))
	}
	return out, nil
}

func index(red, nir float64) float64 {
	sum := nir + red
	if sum == 0 {
		return 0
	}
	v := (nir - red) / sum
	return math.Max(0, math.Min(1, (v+1)/2))
}
