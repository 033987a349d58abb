// Package preview renders quicklook PNGs of prediction rasters.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/jobrunner/flotsam/internal/raster"
)

// DefaultMaxDim bounds the longer side of a preview.
const DefaultMaxDim = 1024

// Renderer draws the first band of a raster as a grey scale image stretched
// between its minimum and maximum. Nodata pixels are transparent.
type Renderer struct {
	maxDim int
}

// NewRenderer creates a renderer. A maxDim of zero or less uses DefaultMaxDim.
func NewRenderer(maxDim int) *Renderer {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	return &Renderer{maxDim: maxDim}
}

// Render encodes the preview as PNG.
func (p *Renderer) Render(r *raster.Raster) ([]byte, error) {
	img := p.image(r.Grid())

	b := img.Bounds()
	if w, h := b.Dx(), b.Dy(); w > p.maxDim || h > p.maxDim {
		if w >= h {
			img = imaging.Resize(img, p.maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, p.maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *Renderer) image(g *raster.Grid) *image.NRGBA {
	band := g.Bands[0]
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range band {
		if g.IsNoData(v) || math.IsNaN(v) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}

	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for row := range g.Height {
		for col := range g.Width {
			v := band[row*g.Width+col]
			if g.IsNoData(v) || math.IsNaN(v) {
				continue
			}
			grey := stretch(v, lo, hi)
			img.SetNRGBA(col, row, color.NRGBA{R: grey, G: grey, B: grey, A: 255})
		}
	}
	return img
}

func stretch(v, lo, hi float64) uint8 {
	if hi <= lo {
		if v > 0 {
			return 255
		}
		return 0
	}
	return uint8(math.Round((v - lo) / (hi - lo) * 255))
}
