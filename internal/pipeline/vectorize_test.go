package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/jobrunner/flotsam/internal/domain"
	"github.com/jobrunner/flotsam/internal/raster"
)

// classified builds a Uint8 raster from rows of pixel values.
func classified(t *testing.T, rows ...[]float64) *raster.Raster {
	t.Helper()
	h, w := len(rows), len(rows[0])
	return newTestRaster(t, h, w, 1, domain.Uint8, func(_, row, col int) float64 {
		return rows[row][col]
	})
}

func ptr(v float64) *float64 { return &v }

func TestToPoint(t *testing.T) {
	r := classified(t,
		[]float64{0, 0, 3},
		[]float64{1, 0, 0},
		[]float64{0, 2, 0},
	)

	tests := []struct {
		name      string
		threshold *float64
		want      int
	}{
		{"above zero", ptr(0), 3},
		{"above one", ptr(1), 2},
		{"no threshold", nil, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToPoint{Threshold: tt.threshold}.Vectorize(context.Background(), r)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d points, want %d", len(got), tt.want)
			}
			for _, v := range got {
				if err := v.Validate(); err != nil {
					t.Errorf("invalid vector: %v", err)
				}
				if v.CRS != r.CRS() {
					t.Errorf("crs = %d, want %d", v.CRS, r.CRS())
				}
				if !r.Bounds().ContainsBox(v.Bounds(), 0) {
					t.Errorf("point %v outside raster %v", v.Geometry, r.Bounds())
				}
			}
		})
	}

	got, _ := ToPoint{Threshold: ptr(0)}.Vectorize(context.Background(), r)
	if p := got[0].Geometry.(orb.Point); p != (orb.Point{500025, 1599995}) || got[0].PixelValue != 3 {
		t.Errorf("first point = %v value %d, want [500025 1599995] value 3", p, got[0].PixelValue)
	}
}

func TestToPolygon(t *testing.T) {
	tests := []struct {
		name       string
		rows       [][]float64
		threshold  *float64
		wantCount  int
		wantValues map[int]int // pixel value -> polygons
	}{
		{
			name: "single pixel",
			rows: [][]float64{
				{0, 0, 0},
				{0, 1, 0},
				{0, 0, 0},
			},
			threshold:  ptr(1),
			wantCount:  1,
			wantValues: map[int]int{1: 1},
		},
		{
			name: "donut",
			rows: [][]float64{
				{1, 1, 1, 0},
				{1, 0, 1, 0},
				{1, 1, 1, 0},
			},
			threshold:  ptr(1),
			wantCount:  1,
			wantValues: map[int]int{1: 1},
		},
		{
			name: "diagonal pixels are separate",
			rows: [][]float64{
				{1, 0},
				{0, 1},
			},
			threshold:  ptr(1),
			wantCount:  2,
			wantValues: map[int]int{1: 2},
		},
		{
			name: "u shape",
			rows: [][]float64{
				{2, 0, 2},
				{2, 0, 2},
				{2, 2, 2},
			},
			threshold:  ptr(1),
			wantCount:  1,
			wantValues: map[int]int{2: 1},
		},
		{
			name: "values split components",
			rows: [][]float64{
				{1, 1, 2},
				{1, 2, 2},
				{0, 0, 0},
			},
			threshold:  ptr(1),
			wantCount:  2,
			wantValues: map[int]int{1: 1, 2: 1},
		},
		{
			name: "hole touching corner",
			rows: [][]float64{
				{1, 1, 1, 1},
				{1, 0, 1, 1},
				{1, 1, 0, 1},
				{1, 1, 1, 1},
			},
			threshold:  ptr(1),
			wantCount:  1,
			wantValues: map[int]int{1: 1},
		},
		{
			name: "no threshold keeps zero",
			rows: [][]float64{
				{0, 1},
				{0, 1},
			},
			wantCount:  2,
			wantValues: map[int]int{0: 1, 1: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := classified(t, tt.rows...)
			got, err := ToPolygon{Threshold: tt.threshold}.Vectorize(context.Background(), r)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("got %d polygons, want %d", len(got), tt.wantCount)
			}
			values := map[int]int{}
			for _, v := range got {
				values[v.PixelValue]++
				if !r.Bounds().ContainsBox(v.Bounds(), 1e-9) {
					t.Errorf("polygon bounds %v outside raster %v", v.Bounds(), r.Bounds())
				}
			}
			for k, n := range tt.wantValues {
				if values[k] != n {
					t.Errorf("value %d has %d polygons, want %d", k, values[k], n)
				}
			}

			// Every pixel center lies in exactly the polygon of its value.
			g := r.Grid()
			for row := range g.Height {
				for col := range g.Width {
					center := g.Transform.PixelCenter(row, col)
					v := g.At(0, row, col)
					included := tt.threshold == nil || v >= *tt.threshold
					hits := 0
					for _, vec := range got {
						if contains(vec.Geometry, center) {
							hits++
							if float64(vec.PixelValue) != v {
								t.Errorf("pixel (%d,%d) value %v inside polygon of value %d", row, col, v, vec.PixelValue)
							}
						}
					}
					if included && hits != 1 {
						t.Errorf("pixel (%d,%d) in %d polygons, want 1", row, col, hits)
					}
					if !included && hits != 0 {
						t.Errorf("excluded pixel (%d,%d) in %d polygons", row, col, hits)
					}
				}
			}
		})
	}
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

func TestToPolygonDonutShape(t *testing.T) {
	r := classified(t,
		[]float64{1, 1, 1},
		[]float64{1, 0, 1},
		[]float64{1, 1, 1},
	)
	got, err := ToPolygon{Threshold: ptr(1)}.Vectorize(context.Background(), r)
	if err != nil {
		t.Fatal(err)
	}
	poly, ok := got[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry = %T, want orb.Polygon", got[0].Geometry)
	}
	if len(poly) != 2 {
		t.Fatalf("rings = %d, want outer and hole", len(poly))
	}
	if len(poly[0]) != 5 || len(poly[1]) != 5 {
		t.Errorf("ring lengths = %d, %d, want 5 corner points each", len(poly[0]), len(poly[1]))
	}
	if signedArea(poly[0]) <= 0 || signedArea(poly[1]) >= 0 {
		t.Error("outer ring should be counter-clockwise and the hole clockwise")
	}
	// 8 pixels of 10x10 m.
	if area := planar.Area(poly); math.Abs(area-800) > 1e-6 {
		t.Errorf("area = %v, want 800", area)
	}
}

func TestVectorizeRejectsFloat(t *testing.T) {
	g := raster.NewGrid(2, 2, 1, domain.Float32, 32651, domain.NorthUp(0, 0, 1))
	r, err := raster.FromGrid(g, domain.HeightWidth{})
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range []Vectorizer{ToPoint{}, ToPolygon{}} {
		if _, err := v.Vectorize(context.Background(), r); !errors.Is(err, domain.ErrUnsupportedDType) {
			t.Errorf("%T error = %v, want ErrUnsupportedDType", v, err)
		}
	}
}

func TestNewVectorizer(t *testing.T) {
	tests := []struct {
		mode    string
		want    Vectorizer
		wantErr bool
	}{
		{"point", ToPoint{}, false},
		{"Polygon", ToPolygon{}, false},
		{"", ToPolygon{}, false},
		{"line", nil, true},
	}
	for _, tt := range tests {
		got, err := NewVectorizer(tt.mode, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewVectorizer(%q) error = %v", tt.mode, err)
			continue
		}
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("NewVectorizer(%q) error = %v, want ErrInvalidInput", tt.mode, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("NewVectorizer(%q) = %#v, want %#v", tt.mode, got, tt.want)
		}
	}
}
