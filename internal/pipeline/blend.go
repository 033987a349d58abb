package pipeline

import (
	"math"
	"strings"

	"github.com/jobrunner/flotsam/internal/domain"
)

// Blend selects how overlapping windows are mosaicked.
type Blend string

// Blend strategies.
const (
	BlendFirst         Blend = "first"
	BlendSmoothOverlap Blend = "smooth_overlap"
	BlendCopySmooth    Blend = "copy_smooth"
)

// ParseBlend validates a blend strategy name.
func ParseBlend(s string) (Blend, error) {
	switch b := Blend(strings.ToLower(strings.TrimSpace(s))); b {
	case BlendFirst, BlendSmoothOverlap, BlendCopySmooth:
		return b, nil
	case "":
		return BlendFirst, nil
	}
	return "", &domain.ValidationError{
		Field:      "blend",
		Value:      s,
		Constraint: "first|smooth_overlap|copy_smooth",
		Message:    "unknown blend strategy",
	}
}

// gaussianKernel returns a normalised 1D kernel truncated at 3 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		return []float64{1}
	}
	k := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range k {
		x := float64(i - radius)
		k[i] = math.Exp(-x * x / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// gaussianBlur filters a row-major h*w plane with a separable gaussian,
// repeating edge values at the borders.
func gaussianBlur(src []float64, h, w int, sigma float64) []float64 {
	k := gaussianKernel(sigma)
	if len(k) == 1 {
		out := make([]float64, len(src))
		copy(out, src)
		return out
	}
	r := len(k) / 2
	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0.0
			for i, kv := range k {
				xx := min(max(x+i-r, 0), w-1)
				s += kv * src[y*w+xx]
			}
			tmp[y*w+x] = s
		}
	}
	out := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := 0.0
			for i, kv := range k {
				yy := min(max(y+i-r, 0), h-1)
				s += kv * tmp[yy*w+x]
			}
			out[y*w+x] = s
		}
	}
	return out
}

// gradientMagnitude returns |grad f| using central differences inside and
// one-sided differences on the borders.
func gradientMagnitude(f []float64, h, w int) []float64 {
	out := make([]float64, len(f))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var gx, gy float64
			switch {
			case w == 1:
			case x == 0:
				gx = f[y*w+1] - f[y*w]
			case x == w-1:
				gx = f[y*w+x] - f[y*w+x-1]
			default:
				gx = (f[y*w+x+1] - f[y*w+x-1]) / 2
			}
			switch {
			case h == 1:
			case y == 0:
				gy = f[w+x] - f[x]
			case y == h-1:
				gy = f[y*w+x] - f[(y-1)*w+x]
			default:
				gy = (f[(y+1)*w+x] - f[(y-1)*w+x]) / 2
			}
			out[y*w+x] = math.Hypot(gx, gy)
		}
	}
	return out
}

// overlapWeights builds the 0..1 weight given to the incoming window inside
// the overlap: 1 minus the normalised, blurred gradient of the overlap mask.
// Pixels at the seam keep more of the existing mosaic.
func overlapWeights(mask []bool, h, w int, sigma float64) []float64 {
	m := make([]float64, len(mask))
	for i, v := range mask {
		if v {
			m[i] = 1
		}
	}
	g := gaussianBlur(gradientMagnitude(m, h, w), h, w, sigma)
	peak := 0.0
	for _, v := range g {
		peak = math.Max(peak, v)
	}
	out := make([]float64, len(g))
	for i, v := range g {
		if peak == 0 {
			out[i] = 0.5
			continue
		}
		out[i] = 1 - v/peak
	}
	return out
}
