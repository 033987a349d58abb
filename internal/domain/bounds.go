// Package domain contains the core entities and value objects of the
// debris detection pipeline.
package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Common SRID constants.
const (
	SRIDWGS84       = 4326  // WGS 84
	SRIDWebMercator = 3857  // Web Mercator
	SRIDUTMNorth    = 32600 // WGS 84 / UTM north, add the zone number
	SRIDUTMSouth    = 32700 // WGS 84 / UTM south, add the zone number
)

// Projection represents a coordinate reference system.
type Projection struct {
	SRID int    // EPSG code
	Name string // Human-readable name
}

// LookupProjection returns a descriptive projection for the builtin SRIDs.
func LookupProjection(srid int) (Projection, bool) {
	switch {
	case srid == SRIDWGS84:
		return Projection{SRID: srid, Name: "WGS 84"}, true
	case srid == SRIDWebMercator:
		return Projection{SRID: srid, Name: "WGS 84 / Pseudo-Mercator"}, true
	case srid > SRIDUTMNorth && srid <= SRIDUTMNorth+60:
		return Projection{SRID: srid, Name: fmt.Sprintf("WGS 84 / UTM zone %dN", srid-SRIDUTMNorth)}, true
	case srid > SRIDUTMSouth && srid <= SRIDUTMSouth+60:
		return Projection{SRID: srid, Name: fmt.Sprintf("WGS 84 / UTM zone %dS", srid-SRIDUTMSouth)}, true
	}
	return Projection{}, false
}

// IsGeographic reports whether srid is a geographic (degree based) CRS.
func IsGeographic(srid int) bool {
	return srid >= 4000 && srid < 5000
}

// HeightWidth is a pixel size or pixel offset tuple.
type HeightWidth struct {
	Height int
	Width  int
}

func (hw HeightWidth) String() string {
	return fmt.Sprintf("%dx%d", hw.Height, hw.Width)
}

// BoundingBox is (min_x, min_y, max_x, max_y) in the units of its CRS.
type BoundingBox struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// BoundingBoxFromBound converts an orb bound.
func BoundingBoxFromBound(b orb.Bound) BoundingBox {
	return BoundingBox{MinX: b.Min[0], MinY: b.Min[1], MaxX: b.Max[0], MaxY: b.Max[1]}
}

// Bound returns the orb representation of the box.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// Polygon returns the box as a closed, counter-clockwise polygon.
func (b BoundingBox) Polygon() orb.Polygon {
	return b.Bound().ToPolygon()
}

// IsValid checks if the box has non-negative dimensions.
func (b BoundingBox) IsValid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Width returns the width of the box.
func (b BoundingBox) Width() float64 {
	return math.Abs(b.MaxX - b.MinX)
}

// Height returns the height of the box.
func (b BoundingBox) Height() float64 {
	return math.Abs(b.MaxY - b.MinY)
}

// Contains checks whether p is inside the box, edges included.
func (b BoundingBox) Contains(p orb.Point) bool {
	return p[0] >= b.MinX && p[0] <= b.MaxX && p[1] >= b.MinY && p[1] <= b.MaxY
}

// ContainsBox checks whether o lies entirely within b, allowing tol for
// floating point noise.
func (b BoundingBox) ContainsBox(o BoundingBox, tol float64) bool {
	return o.MinX >= b.MinX-tol && o.MinY >= b.MinY-tol &&
		o.MaxX <= b.MaxX+tol && o.MaxY <= b.MaxY+tol
}

// Union returns the smallest box covering both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Intersect returns the overlap of both boxes and whether it is non-empty.
func (b BoundingBox) Intersect(o BoundingBox) (BoundingBox, bool) {
	r := BoundingBox{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
	if r.MinX >= r.MaxX || r.MinY >= r.MaxY {
		return BoundingBox{}, false
	}
	return r, true
}

// Center returns the center point of the box.
func (b BoundingBox) Center() orb.Point {
	return orb.Point{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%g, %g, %g, %g)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
