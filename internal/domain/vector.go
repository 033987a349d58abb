package domain

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// PixelValueProperty is the GeoJSON property carrying a vector's pixel value.
const PixelValueProperty = "pixel_value"

// Vector is a point or polygon extracted from a classified raster.
type Vector struct {
	Geometry   orb.Geometry
	CRS        int
	PixelValue int
}

// Validate checks that the geometry is of a supported type.
func (v Vector) Validate() error {
	switch v.Geometry.(type) {
	case orb.Point, orb.Polygon, orb.MultiPolygon:
		return nil
	case nil:
		return &ValidationError{
			Field:      "geometry",
			Constraint: "non-nil",
			Message:    "vector has no geometry",
		}
	default:
		return fmt.Errorf("%s: %w", v.Geometry.GeoJSONType(), ErrUnsupportedGeometry)
	}
}

// Bounds returns the bounding box of the geometry.
func (v Vector) Bounds() BoundingBox {
	return BoundingBoxFromBound(v.Geometry.Bound())
}

// Feature converts the vector into a GeoJSON feature. Only EPSG:4326
// vectors can be exported.
func (v Vector) Feature() (*geojson.Feature, error) {
	if v.CRS != SRIDWGS84 {
		return nil, fmt.Errorf("vector in EPSG:%d: %w", v.CRS, ErrNotWGS84)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	f := geojson.NewFeature(v.Geometry)
	f.Properties[PixelValueProperty] = v.PixelValue
	return f, nil
}

// FeatureCollection exports all vectors, failing on the first vector that
// cannot be exported.
func FeatureCollection(vectors []Vector) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for i, v := range vectors {
		f, err := v.Feature()
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		fc.Append(f)
	}
	return fc, nil
}
