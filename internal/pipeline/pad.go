package pipeline

import (
	"context"
	"fmt"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// PadAmounts returns the padding added before and after an axis of length n:
// the smallest total of at least 2*padding that makes the axis divisible by
// divisibleBy, with the odd pixel going before.
func PadAmounts(n, padding, divisibleBy int) (before, after int) {
	total := 2 * padding
	if divisibleBy > 1 {
		total += (divisibleBy - (n+total)%divisibleBy) % divisibleBy
	}
	return (total + 1) / 2, total / 2
}

// Pad zero-fills every band so both axes satisfy the stride requirement.
type Pad struct {
	Padding     int
	DivisibleBy int
}

// Name implements Operation.
func (p Pad) Name() string {
	return "pad"
}

// Apply implements Operation. The output padding size is the amount added
// before each axis.
func (p Pad) Apply(ctx context.Context, in Seq) Seq {
	if p.Padding < 0 || p.DivisibleBy < 1 {
		return failed(&domain.ValidationError{
			Field:      "padding",
			Value:      fmt.Sprintf("padding=%d divisible_by=%d", p.Padding, p.DivisibleBy),
			Constraint: "padding >= 0, divisible_by >= 1",
			Message:    "invalid padding parameters",
		})
	}
	return mapWindows(ctx, in, p.pad)
}

func (p Pad) pad(r *raster.Raster) (*raster.Raster, error) {
	g := r.Grid()
	bh, ah := PadAmounts(g.Height, p.Padding, p.DivisibleBy)
	bw, aw := PadAmounts(g.Width, p.Padding, p.DivisibleBy)

	out := g.Like(g.Height+bh+ah, g.Width+bw+aw, len(g.Bands), g.Transform.Translate(-bh, -bw))
	for b, src := range g.Bands {
		dst := out.Bands[b]
		for row := 0; row < g.Height; row++ {
			o := (row+bh)*out.Width + bw
			copy(dst[o:o+g.Width], src[row*g.Width:(row+1)*g.Width])
		}
	}
	return raster.FromGrid(out, domain.HeightWidth{Height: bh, Width: bw})
}

// Unpad removes the padding recorded on each raster. Only the before amount is
// known, so it is cropped from both ends of each axis; when the original
// total was odd the result is one pixel short on that axis.
type Unpad struct{}

// Name implements Operation.
func (Unpad) Name() string {
	return "unpad"
}

// Apply implements Operation.
func (u Unpad) Apply(ctx context.Context, in Seq) Seq {
	return mapWindows(ctx, in, u.unpad)
}

func (Unpad) unpad(r *raster.Raster) (*raster.Raster, error) {
	p := r.PaddingSize()
	if p == (domain.HeightWidth{}) {
		return r, nil
	}
	size := r.Size()
	if 2*p.Height >= size.Height || 2*p.Width >= size.Width {
		return nil, &domain.ValidationError{
			Field:      "padding_size",
			Value:      p,
			Constraint: fmt.Sprintf("2*padding < %s", size),
			Message:    "padding leaves no pixels",
		}
	}
	out, err := r.Grid().Crop(p.Height, p.Width, size.Height-2*p.Height, size.Width-2*p.Width)
	if err != nil {
		return nil, err
	}
	return raster.FromGrid(out, domain.HeightWidth{})
}
