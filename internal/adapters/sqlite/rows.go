package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jobrunner/flotsam/internal/domain"
)

// ImageRow is a row of the images table.
type ImageRow struct {
	JobID       string
	ImageID     string
	Provider    string
	AcquiredAt  string
	BBox        string // WKT, part of the uniqueness key
	Footprint   []byte // WKB
	CRS         int
	Height      int
	Width       int
	CloudCover  float64
	RequestedAt string
}

// ImageRowFromScene maps a downloaded scene to its images row.
func ImageRowFromScene(jobID string, scene domain.DownloadResponse) (ImageRow, error) {
	poly := scene.BBox.Polygon()
	footprint, err := wkb.Marshal(poly)
	if err != nil {
		return ImageRow{}, fmt.Errorf("encoding footprint: %w", err)
	}
	return ImageRow{
		JobID:       jobID,
		ImageID:     scene.ImageID,
		Provider:    scene.Provider,
		AcquiredAt:  formatTime(scene.Timestamp),
		BBox:        wkt.MarshalString(poly),
		Footprint:   footprint,
		CRS:         scene.CRS,
		Height:      scene.Size.Height,
		Width:       scene.Size.Width,
		CloudCover:  scene.CloudCover,
		RequestedAt: formatTime(scene.RequestTimestamp),
	}, nil
}

// VectorRow is a row of the vectors table.
type VectorRow struct {
	JobID      string
	CRS        int
	PixelValue int
	Geometry   []byte // WKB
}

// VectorRowFromVector maps a vector to its row.
func VectorRowFromVector(jobID string, v domain.Vector) (VectorRow, error) {
	if err := v.Validate(); err != nil {
		return VectorRow{}, err
	}
	geom, err := wkb.Marshal(v.Geometry)
	if err != nil {
		return VectorRow{}, fmt.Errorf("encoding geometry: %w", err)
	}
	return VectorRow{JobID: jobID, CRS: v.CRS, PixelValue: v.PixelValue, Geometry: geom}, nil
}

// Vector decodes the row.
func (r VectorRow) Vector() (domain.Vector, error) {
	geom, err := wkb.Unmarshal(r.Geometry)
	if err != nil {
		return domain.Vector{}, fmt.Errorf("decoding geometry: %w", err)
	}
	return domain.Vector{Geometry: geom, CRS: r.CRS, PixelValue: r.PixelValue}, nil
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func joinBands(bands []int) string {
	parts := make([]string, len(bands))
	for i, b := range bands {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, ",")
}
