package domain

import (
	"net/http"
	"time"
)

// DownloadResponse is a downloaded scene: the encoded raster plus the
// acquisition metadata reported by the provider. It is never mutated after
// creation.
type DownloadResponse struct {
	ImageID          string
	Content          []byte
	Timestamp        time.Time   // Acquisition time
	BBox             BoundingBox // Geographic footprint (EPSG:4326)
	CRS              int         // CRS of Content
	Size             HeightWidth
	CloudCover       float64 // Percent, -1 if unknown
	Provider         string
	RequestTimestamp time.Time
	Headers          http.Header
}

// Model describes the inference model applied to a scene.
type Model struct {
	Name        string
	Version     string
	Bands       []int // 1-based input bands fed to the model
	WindowSize  HeightWidth
	Offset      int
	Padding     int
	DivisibleBy int
}
