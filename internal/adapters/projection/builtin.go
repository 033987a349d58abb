// Package projection provides a dependency free coordinate transformer for the
// reference systems the pipeline produces: WGS 84, Web Mercator and the
// WGS 84 UTM zones.
package projection

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/jobrunner/flotsam/internal/domain"
)

const (
	degToRad = math.Pi / 180

	// WGS 84 ellipsoid.
	semiMajor    = 6378137.0
	flattening   = 1 / 298.257223563
	eccentricity = flattening * (2 - flattening) // e^2

	// Web Mercator scale, metres per degree of longitude.
	mercatorX      = 20037508.342789244 / 180
	maxMercatorLat = 85.0511287798066

	utmScale         = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// chunk is the number of points converted between context checks.
const chunk = 4096

// Builtin transforms between EPSG:4326, EPSG:3857 and EPSG:326zz/327zz.
type Builtin struct{}

// NewBuiltin creates the builtin transformer.
func NewBuiltin() *Builtin {
	return &Builtin{}
}

// IsSupported implements output.CoordinateTransformer.
func (b *Builtin) IsSupported(sourceSRID, targetSRID int) bool {
	return supported(sourceSRID) && supported(targetSRID)
}

func supported(srid int) bool {
	if srid == domain.SRIDWGS84 || srid == domain.SRIDWebMercator {
		return true
	}
	_, _, ok := utmZone(srid)
	return ok
}

// utmZone splits a WGS 84 UTM code into zone and hemisphere.
func utmZone(srid int) (zone int, south bool, ok bool) {
	switch {
	case srid > domain.SRIDUTMNorth && srid <= domain.SRIDUTMNorth+60:
		return srid - domain.SRIDUTMNorth, false, true
	case srid > domain.SRIDUTMSouth && srid <= domain.SRIDUTMSouth+60:
		return srid - domain.SRIDUTMSouth, true, true
	}
	return 0, false, false
}

// Transform implements output.CoordinateTransformer. Points go through
// geographic coordinates when neither side is EPSG:4326.
func (b *Builtin) Transform(ctx context.Context, pts []orb.Point, sourceSRID, targetSRID int) ([]orb.Point, error) {
	if !b.IsSupported(sourceSRID, targetSRID) {
		return nil, fmt.Errorf("EPSG:%d -> EPSG:%d: %w", sourceSRID, targetSRID, domain.ErrUnsupportedCRS)
	}
	out := make([]orb.Point, len(pts))
	copy(out, pts)
	if sourceSRID == targetSRID {
		return out, nil
	}

	for start := 0; start < len(out); start += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part := out[start:min(start+chunk, len(out))]
		for i, p := range part {
			lon, lat := toGeographic(p, sourceSRID)
			part[i] = fromGeographic(lon, lat, targetSRID)
		}
	}
	return out, nil
}

func toGeographic(p orb.Point, srid int) (lon, lat float64) {
	switch srid {
	case domain.SRIDWGS84:
		return p[0], p[1]
	case domain.SRIDWebMercator:
		return mercatorToLonLat(p[0], p[1])
	}
	zone, south, _ := utmZone(srid)
	return utmToLonLat(p[0], p[1], zone, south)
}

func fromGeographic(lon, lat float64, srid int) orb.Point {
	switch srid {
	case domain.SRIDWGS84:
		return orb.Point{lon, lat}
	case domain.SRIDWebMercator:
		x, y := lonLatToMercator(lon, lat)
		return orb.Point{x, y}
	}
	zone, south, _ := utmZone(srid)
	x, y := lonLatToUTM(lon, lat, zone, south)
	return orb.Point{x, y}
}

func lonLatToMercator(lon, lat float64) (x, y float64) {
	lat = math.Max(math.Min(lat, maxMercatorLat), -maxMercatorLat)
	x = lon * mercatorX
	y = math.Log(math.Tan((90+lat)*degToRad/2)) * semiMajor
	return x, y
}

func mercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x / mercatorX
	lat = math.Atan(math.Exp(y/semiMajor))/(degToRad/2) - 90
	return lon, lat
}

func centralMeridian(zone int) float64 {
	return float64(zone-1)*6 - 180 + 3
}

// meridianArc is the distance along the meridian from the equator to phi.
func meridianArc(phi float64) float64 {
	e2 := eccentricity
	e4, e6 := e2*e2, e2*e2*e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// lonLatToUTM is the transverse mercator forward series.
func lonLatToUTM(lon, lat float64, zone int, south bool) (x, y float64) {
	ep2 := eccentricity / (1 - eccentricity)
	phi := lat * degToRad
	sin, cos, tan := math.Sin(phi), math.Cos(phi), math.Tan(phi)

	n := semiMajor / math.Sqrt(1-eccentricity*sin*sin)
	t := tan * tan
	c := ep2 * cos * cos
	a := (lon - centralMeridian(zone)) * degToRad * cos

	x = utmScale*n*(a+(1-t+c)*a*a*a/6+
		(5-18*t+t*t+72*c-58*ep2)*math.Pow(a, 5)/120) + utmFalseEasting
	y = utmScale * (meridianArc(phi) + n*tan*(a*a/2+
		(5-t+9*c+4*c*c)*math.Pow(a, 4)/24+
		(61-58*t+t*t+600*c-330*ep2)*math.Pow(a, 6)/720))
	if south {
		y += utmFalseNorthing
	}
	return x, y
}

// utmToLonLat is the transverse mercator inverse series.
func utmToLonLat(x, y float64, zone int, south bool) (lon, lat float64) {
	e2 := eccentricity
	ep2 := e2 / (1 - e2)
	if south {
		y -= utmFalseNorthing
	}

	m := y / utmScale
	mu := m / (semiMajor * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))
	e1 := (1 - math.Sqrt(1-e2)) / (1 + math.Sqrt(1-e2))
	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sin, cos, tan := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	c1 := ep2 * cos * cos
	t1 := tan * tan
	n1 := semiMajor / math.Sqrt(1-e2*sin*sin)
	r1 := semiMajor * (1 - e2) / math.Pow(1-e2*sin*sin, 1.5)
	d := (x - utmFalseEasting) / (n1 * utmScale)

	phi := phi1 - (n1*tan/r1)*(d*d/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*math.Pow(d, 4)/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*math.Pow(d, 6)/720)
	lambda := (d - (1+2*t1+c1)*d*d*d/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*math.Pow(d, 5)/120) / cos

	return centralMeridian(zone) + lambda/degToRad, phi / degToRad
}
