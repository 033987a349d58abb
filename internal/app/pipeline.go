package app

import (
	"fmt"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jobrunner/flotsam/internal/config"
	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/pipeline"
)

// PipelineConfig translates the configured chain parameters.
func PipelineConfig(cfg config.PipelineConfig) (pipeline.Config, error) {
	blend, err := pipeline.ParseBlend(cfg.Blend)
	if err != nil {
		return pipeline.Config{}, err
	}
	resampling, err := pipeline.ParseResampling(cfg.Resampling)
	if err != nil {
		return pipeline.Config{}, err
	}

	out := pipeline.Config{
		Window:      domain.HeightWidth{Height: cfg.WindowHeight, Width: cfg.WindowWidth},
		Offset:      cfg.Offset,
		Padding:     cfg.Padding,
		DivisibleBy: cfg.DivisibleBy,
		Bands:       cfg.Bands,
		RemoveBands: cfg.RemoveBands,
		Blend:       blend,
		Sigma:       cfg.Sigma,
		TargetCRS:   cfg.TargetCRS,
		Resampling:  resampling,
		MaskCRS:     cfg.MaskCRS,
		Crop:        cfg.Crop,
	}

	if cfg.TargetDType != "" {
		if out.TargetDType, err = domain.ParseDType(cfg.TargetDType); err != nil {
			return pipeline.Config{}, err
		}
	}

	if cfg.MaskWKT != "" {
		mask, err := wkt.Unmarshal(cfg.MaskWKT)
		if err != nil {
			return pipeline.Config{}, &domain.ConfigError{
				Field:   "pipeline.mask_wkt",
				Message: fmt.Sprintf("invalid WKT: %v", err),
			}
		}
		out.Mask = mask
	}

	return out, nil
}

// Model describes the configured model for image records.
func Model(cfg config.PipelineConfig) domain.Model {
	return domain.Model{
		Name:        cfg.ModelName,
		Version:     cfg.ModelVersion,
		Bands:       cfg.Bands,
		WindowSize:  domain.HeightWidth{Height: cfg.WindowHeight, Width: cfg.WindowWidth},
		Offset:      cfg.Offset,
		Padding:     cfg.Padding,
		DivisibleBy: cfg.DivisibleBy,
	}
}
