package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/paulmach/orb"
)

func TestAffineInvert(t *testing.T) {
	tests := []struct {
		name string
		tr   Affine
	}{
		{"north up", NorthUp(500000, 1600000, 10)},
		{"rotated", Affine{A: 8, B: 2, C: 100, D: 1.5, E: -9, F: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := tt.tr.Invert()
			if err != nil {
				t.Fatalf("Invert() error = %v", err)
			}
			x, y := tt.tr.Apply(13.25, 7.5)
			col, row := inv.Apply(x, y)
			if math.Abs(col-13.25) > 1e-9 || math.Abs(row-7.5) > 1e-9 {
				t.Errorf("round trip = (%f, %f), want (13.25, 7.5)", col, row)
			}
		})
	}

	if _, err := (Affine{}).Invert(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("degenerate Invert() error = %v, want ErrInvalidInput", err)
	}
}

func TestAffineTranslateAndBounds(t *testing.T) {
	tr := NorthUp(1000, 2000, 10)

	padded := tr.Translate(-3, -2)
	if padded.C != 980 || padded.F != 2030 {
		t.Errorf("Translate(-3,-2) origin = (%f, %f), want (980, 2030)", padded.C, padded.F)
	}
	if back := padded.Translate(3, 2); back != tr {
		t.Errorf("Translate round trip = %v, want %v", back, tr)
	}

	b := tr.Bounds(5, 4)
	want := BoundingBox{MinX: 1000, MinY: 1950, MaxX: 1040, MaxY: 2000}
	if b != want {
		t.Errorf("Bounds() = %v, want %v", b, want)
	}

	c := tr.PixelCenter(0, 0)
	if c != (orb.Point{1005, 1995}) {
		t.Errorf("PixelCenter(0,0) = %v", c)
	}
}

func TestBoundingBox(t *testing.T) {
	a := BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	b := BoundingBox{MinX: 5, MinY: 5, MaxX: 15, MaxY: 20}

	if u := a.Union(b); u != (BoundingBox{0, 0, 15, 20}) {
		t.Errorf("Union() = %v", u)
	}
	i, ok := a.Intersect(b)
	if !ok || i != (BoundingBox{5, 5, 10, 10}) {
		t.Errorf("Intersect() = %v, %v", i, ok)
	}
	if _, ok := a.Intersect(BoundingBox{20, 20, 30, 30}); ok {
		t.Error("disjoint boxes should not intersect")
	}
	if !a.Contains(orb.Point{10, 0}) {
		t.Error("Contains should include edges")
	}
	if !a.ContainsBox(BoundingBox{0, 0, 10.0000001, 10}, 1e-6) {
		t.Error("ContainsBox should honour tolerance")
	}

	ring := a.Polygon()[0]
	if len(ring) != 5 || ring[0] != ring[4] {
		t.Errorf("Polygon() ring not closed: %v", ring)
	}
}

func TestDType(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DType
		size    int
		integer bool
		wantErr bool
	}{
		{"uint8", "uint8", Uint8, 1, true, false},
		{"mixed case", "Int16", Int16, 2, true, false},
		{"float32", "float32", Float32, 4, false, false},
		{"float64", "float64", Float64, 8, false, false},
		{"complex", "complex64", DTypeInvalid, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDType(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedDType) {
					t.Errorf("ParseDType() error = %v, want ErrUnsupportedDType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDType() error = %v", err)
			}
			if got != tt.want || got.Size() != tt.size || got.IsInteger() != tt.integer {
				t.Errorf("ParseDType(%q) = %v size %d integer %v", tt.in, got, got.Size(), got.IsInteger())
			}
		})
	}
}

func TestDTypeClamp(t *testing.T) {
	tests := []struct {
		dt   DType
		in   float64
		want float64
	}{
		{Uint8, 300, 255},
		{Uint8, -4, 0},
		{Uint8, 127.5, 128},
		{Int8, -200, -128},
		{Int16, 1.4, 1},
		{Float64, 0.123, 0.123},
	}

	for _, tt := range tests {
		if got := tt.dt.Clamp(tt.in); got != tt.want {
			t.Errorf("%v.Clamp(%v) = %v, want %v", tt.dt, tt.in, got, tt.want)
		}
	}
}

func TestVectorFeature(t *testing.T) {
	tests := []struct {
		name    string
		vector  Vector
		wantErr error
	}{
		{
			name:   "point in 4326",
			vector: Vector{Geometry: orb.Point{121.5, 14.6}, CRS: SRIDWGS84, PixelValue: 3},
		},
		{
			name:    "utm rejected",
			vector:  Vector{Geometry: orb.Point{500000, 1600000}, CRS: 32651, PixelValue: 1},
			wantErr: ErrNotWGS84,
		},
		{
			name:    "line string unsupported",
			vector:  Vector{Geometry: orb.LineString{{0, 0}, {1, 1}}, CRS: SRIDWGS84},
			wantErr: ErrUnsupportedGeometry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := tt.vector.Feature()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Feature() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Feature() error = %v", err)
			}
			if f.Properties[PixelValueProperty] != tt.vector.PixelValue {
				t.Errorf("pixel_value = %v, want %d", f.Properties[PixelValueProperty], tt.vector.PixelValue)
			}
		})
	}
}

func TestJobTransitions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobPending, JobInProgress, true},
		{JobPending, JobFailed, true},
		{JobPending, JobCompleted, false},
		{JobInProgress, JobCompleted, true},
		{JobInProgress, JobFailed, true},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobInProgress, false},
		{JobFailed, JobPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			j := NewJob("id", "scene.tif", "m", now)
			j.Status = tt.from
			err := j.Transition(tt.to, now)
			if tt.ok && err != nil {
				t.Errorf("Transition() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestJobDuration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := NewJob("id", "scene.tif", "m", start)
	if err := j.Transition(JobInProgress, start); err != nil {
		t.Fatal(err)
	}
	if err := j.Fail(errors.New("boom"), start.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}
	if j.Duration() != 3*time.Second {
		t.Errorf("Duration() = %v", j.Duration())
	}
	if j.Error != "boom" {
		t.Errorf("Error = %q", j.Error)
	}
}

func TestJobClone(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := NewJob("id", "scene.tif", "m", now)
	if err := j.Transition(JobInProgress, now); err != nil {
		t.Fatal(err)
	}

	c := j.Clone()
	*j.StartedAt = now.Add(time.Hour)
	j.Status = JobFailed

	if c.Status != JobInProgress {
		t.Errorf("clone status = %s, want IN_PROGRESS", c.Status)
	}
	if !c.StartedAt.Equal(now) {
		t.Errorf("clone StartedAt = %v, want %v", c.StartedAt, now)
	}
	if c.FinishedAt != nil {
		t.Error("clone FinishedAt should stay nil")
	}
}

func TestLookupProjection(t *testing.T) {
	p, ok := LookupProjection(32651)
	if !ok || p.Name != "WGS 84 / UTM zone 51N" {
		t.Errorf("LookupProjection(32651) = %v, %v", p, ok)
	}
	if _, ok := LookupProjection(2056); ok {
		t.Error("LookupProjection(2056) should be unknown")
	}
}
