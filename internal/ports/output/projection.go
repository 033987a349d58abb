package output

import (
	"context"

	"github.com/paulmach/orb"
)

// CoordinateTransformer defines the secondary port for coordinate transformations.
type CoordinateTransformer interface {
	// Transform transforms points from one SRID to another. The result has
	// the same length and order as pts.
	Transform(ctx context.Context, pts []orb.Point, sourceSRID, targetSRID int) ([]orb.Point, error)

	// IsSupported checks if a transformation is supported.
	IsSupported(sourceSRID, targetSRID int) bool
}
