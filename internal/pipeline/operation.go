// Package pipeline implements the raster operations of the debris detection
// chain. Operations consume and produce lazy window sequences so only the
// windows in flight are held in memory.
package pipeline

import (
	"context"
	"iter"
	"log/slog"

	"github.com/jobrunner/flotsam/internal/ports/output"
	"github.com/jobrunner/flotsam/internal/raster"
)

// Seq is a lazy, finite sequence of rasters. A sequence ends after the first
// error it yields.
type Seq = iter.Seq2[*raster.Raster, error]

// Operation transforms a sequence of rasters.
type Operation interface {
	Name() string
	Apply(ctx context.Context, in Seq) Seq
}

// Single returns a sequence holding r.
func Single(r *raster.Raster) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		yield(r, nil)
	}
}

// FromSlice returns a sequence over rs.
func FromSlice(rs []*raster.Raster) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		for _, r := range rs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// Collect drains seq, returning the first error.
func Collect(seq Seq) ([]*raster.Raster, error) {
	var out []*raster.Raster
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Last drains seq and returns its final raster.
func Last(seq Seq) (*raster.Raster, error) {
	var last *raster.Raster
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

// mapWindows applies fn to every window, stopping at the first error or
// when ctx is done.
func mapWindows(ctx context.Context, in Seq, fn func(*raster.Raster) (*raster.Raster, error)) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		for r, err := range in {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			out, err := fn(r)
			if !yield(out, err) || err != nil {
				return
			}
		}
	}
}

// failed is a sequence yielding only err.
func failed(err error) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		yield(nil, err)
	}
}

// Composite chains operations in order.
type Composite struct {
	ops     []Operation
	logger  *slog.Logger
	metrics output.MetricsCollector
}

// NewComposite creates a composite of ops.
func NewComposite(logger *slog.Logger, metrics output.MetricsCollector, ops ...Operation) *Composite {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Composite{ops: ops, logger: logger, metrics: metrics}
}

// Name implements Operation.
func (c *Composite) Name() string {
	return "composite"
}

// Operations returns the names of the chained operations.
func (c *Composite) Operations() []string {
	names := make([]string, len(c.ops))
	for i, op := range c.ops {
		names[i] = op.Name()
	}
	return names
}

// Apply implements Operation.
func (c *Composite) Apply(ctx context.Context, in Seq) Seq {
	seq := in
	for _, op := range c.ops {
		seq = c.observe(ctx, op.Name(), op.Apply(ctx, seq))
	}
	return seq
}

// Run applies the chain to a single raster and returns its last output.
func (c *Composite) Run(ctx context.Context, r *raster.Raster) (*raster.Raster, error) {
	return Last(c.Apply(ctx, Single(r)))
}

func (c *Composite) observe(ctx context.Context, stage string, in Seq) Seq {
	return func(yield func(*raster.Raster, error) bool) {
		i := 0
		for r, err := range in {
			if err != nil {
				c.logger.DebugContext(ctx, "stage failed", "stage", stage, "window", i, "error", err)
				yield(nil, err)
				return
			}
			c.metrics.IncWindows(stage)
			c.logger.DebugContext(ctx, "window processed",
				"stage", stage, "window", i, "size", r.Size().String())
			i++
			if !yield(r, nil) {
				return
			}
		}
	}
}
