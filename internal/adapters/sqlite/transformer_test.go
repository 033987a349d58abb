package sqlite

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
)

func TestSpatiaLiteLibraryPaths(t *testing.T) {
	t.Setenv("SPATIALITE_LIBRARY_PATH", "/opt/spatialite/mod_spatialite.so")
	paths := spatiaLiteLibraryPaths()
	if len(paths) != 1 || paths[0] != "/opt/spatialite/mod_spatialite.so" {
		t.Errorf("paths = %v, want only the configured path", paths)
	}

	t.Setenv("SPATIALITE_LIBRARY_PATH", "")
	if paths := spatiaLiteLibraryPaths(); len(paths) < 2 {
		t.Errorf("default paths = %v", paths)
	}
}

// newTestTransformer skips when mod_spatialite cannot be loaded.
func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := NewTransformer(context.Background())
	if err != nil {
		t.Skipf("SpatiaLite not available: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransformerKnownPoint(t *testing.T) {
	tr := newTestTransformer(t)

	if !tr.IsSupported(domain.SRIDWGS84, 32651) {
		t.Fatal("IsSupported(4326, 32651) = false")
	}
	if tr.IsSupported(domain.SRIDWGS84, 0) {
		t.Error("IsSupported(4326, 0) = true")
	}

	// The central meridian of zone 51 maps to the false easting.
	got, err := tr.Transform(context.Background(), []orb.Point{{123, 0}, {123, 10}}, domain.SRIDWGS84, 32651)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if math.Abs(got[0][0]-500000) > 1e-3 || math.Abs(got[0][1]) > 1e-3 {
		t.Errorf("equator point = %v, want (500000, 0)", got[0])
	}
	if math.Abs(got[1][0]-500000) > 1e-3 || math.Abs(got[1][1]-1105412.49) > 0.1 {
		t.Errorf("10N point = %v, want (500000, 1105412.49)", got[1])
	}
}

func TestTransformerErrors(t *testing.T) {
	tr := newTestTransformer(t)

	_, err := tr.Transform(context.Background(), []orb.Point{{0, 0}}, domain.SRIDWGS84, 999999)
	if !errors.Is(err, domain.ErrUnsupportedCRS) {
		t.Errorf("Transform() error = %v, want ErrUnsupportedCRS", err)
	}

	same, err := tr.Transform(context.Background(), []orb.Point{{1, 2}}, 999999, 999999)
	if err != nil || same[0] != (orb.Point{1, 2}) {
		t.Errorf("identity Transform() = %v, %v", same, err)
	}
}
