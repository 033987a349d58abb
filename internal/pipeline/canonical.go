package pipeline

import (
	"log/slog"
	"slices"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/ports/output"
)

// Config parameterises the debris detection chain.
type Config struct {
	Window      domain.HeightWidth
	Offset      int
	Padding     int
	DivisibleBy int
	Bands       []int // Model input bands, empty keeps all
	RemoveBands []int // Bands dropped before band selection
	Blend       Blend
	Sigma       float64
	TargetCRS   int          // 0 keeps the scene CRS
	TargetDType domain.DType // DTypeInvalid keeps the prediction dtype
	Resampling  Resampling
	Mask        orb.Geometry // Optional clip mask
	MaskCRS     int
	Crop        bool
}

// Deps are the collaborators of the chain.
type Deps struct {
	Predictor   output.Predictor
	Transformer output.CoordinateTransformer
	Logger      *slog.Logger
	Metrics     output.MetricsCollector
}

// Canonical builds Split, Pad, band selection, Inference, Unpad, Merge,
// Reproject, DTypeConvert and Clip. Optional stages are left out when not
// configured.
func Canonical(cfg Config, deps Deps) *Composite {
	ops := []Operation{
		Split{Window: cfg.Window, Offset: cfg.Offset},
		Pad{Padding: cfg.Padding, DivisibleBy: max(cfg.DivisibleBy, 1)},
	}
	// Removing a lower band shifts the higher ones, so drop from the top.
	remove := slices.Clone(cfg.RemoveBands)
	slices.Sort(remove)
	for i := len(remove) - 1; i >= 0; i-- {
		ops = append(ops, RemoveBand{Band: remove[i], Logger: deps.Logger})
	}
	if len(cfg.Bands) > 0 {
		ops = append(ops, BandSelect{Bands: cfg.Bands})
	}
	ops = append(ops,
		Inference{Predictor: deps.Predictor},
		Unpad{},
		Merge{Blend: cfg.Blend, Sigma: cfg.Sigma},
	)
	if cfg.TargetCRS != 0 {
		ops = append(ops, Reproject{
			Target:      cfg.TargetCRS,
			Resampling:  cfg.Resampling,
			Transformer: deps.Transformer,
		})
	}
	if cfg.TargetDType.Valid() {
		ops = append(ops, DTypeConvert{Target: cfg.TargetDType})
	}
	if cfg.Mask != nil {
		ops = append(ops, Clip{
			Mask:        cfg.Mask,
			MaskCRS:     cfg.MaskCRS,
			Crop:        cfg.Crop,
			Transformer: deps.Transformer,
		})
	}
	return NewComposite(deps.Logger, deps.Metrics, ops...)
}
