package pipeline

import (
	"context"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// PixelWindow is a rectangle in pixel space.
type PixelWindow struct {
	Row, Col      int
	Height, Width int
}

// SplitWindows returns the overlapping windows covering a raster of the given
// size, in row-major order. Each nominal window*window cell is expanded by
// offset pixels on every side and clipped to the raster extent, so edge
// windows may be smaller than the others.
func SplitWindows(size, window domain.HeightWidth, offset int) []PixelWindow {
	rows := ceilDiv(size.Height, window.Height)
	cols := ceilDiv(size.Width, window.Width)
	out := make([]PixelWindow, 0, rows*cols)
	for i := range rows {
		r0 := i * window.Height
		r1 := min(r0+window.Height, size.Height)
		er0 := max(r0-offset, 0)
		er1 := min(r1+offset, size.Height)
		for j := range cols {
			c0 := j * window.Width
			c1 := min(c0+window.Width, size.Width)
			ec0 := max(c0-offset, 0)
			ec1 := min(c1+offset, size.Width)
			out = append(out, PixelWindow{Row: er0, Col: ec0, Height: er1 - er0, Width: ec1 - ec0})
		}
	}
	return out
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Split partitions each input raster into overlapping windows.
type Split struct {
	Window domain.HeightWidth
	Offset int
}

// Name implements Operation.
func (s Split) Name() string {
	return "split"
}

func (s Split) validate() error {
	if s.Window.Height <= 0 || s.Window.Width <= 0 {
		return &domain.ValidationError{
			Field:      "window",
			Value:      s.Window,
			Constraint: "> 0",
			Message:    "window size must be positive",
		}
	}
	if s.Offset < 0 {
		return &domain.ValidationError{
			Field:      "offset",
			Value:      s.Offset,
			Constraint: ">= 0",
			Message:    "window offset cannot be negative",
		}
	}
	return nil
}

// Apply implements Operation. Windows keep the parent's padding size.
func (s Split) Apply(ctx context.Context, in Seq) Seq {
	if err := s.validate(); err != nil {
		return failed(err)
	}
	return func(yield func(*raster.Raster, error) bool) {
		for r, err := range in {
			if err != nil {
				yield(nil, err)
				return
			}
			g := r.Grid()
			for _, w := range SplitWindows(r.Size(), s.Window, s.Offset) {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				sub, err := g.Crop(w.Row, w.Col, w.Height, w.Width)
				if err != nil {
					yield(nil, err)
					return
				}
				out, err := raster.FromGrid(sub, r.PaddingSize())
				if !yield(out, err) || err != nil {
					return
				}
			}
		}
	}
}
