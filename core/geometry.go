package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

const (
	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi

	// minDisplacementKm is the smallest ECEF displacement treated as motion
	// when deriving a direction of travel.
	minDisplacementKm = 1e-6
)

// Vec3 is an ECEF vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Position is a geodetic position: degrees latitude/longitude on WGS-84 and
// altitude in metres.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// ECEF converts p into Earth-centred Earth-fixed kilometres.
//
// go-satellite only offers the geodetic → ECI leg, so the point is projected
// into ECI at the given instant and rotated straight back by the same
// Greenwich sidereal angle. The rotation cancels exactly; the instant only
// has to be the same for both legs.
func (p Position) ECEF(at time.Time) Vec3 {
	at = at.UTC()
	year, month, day := at.Date()
	hour, minute, sec := at.Clock()
	jd := satellite.JDay(year, int(month), day, hour, minute, sec)

	eci := satellite.LLAToECI(satellite.LatLong{
		Latitude:  p.Lat * degToRad,
		Longitude: p.Lon * degToRad,
	}, p.Alt/1000.0, jd)
	ecef := satellite.ECIToECEF(eci, satellite.ThetaG_JD(jd))
	return Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// ENU rotates an ECEF displacement into the local east/north/up frame at ref.
func ENU(ref Position, d Vec3) (east, north, up float64) {
	lat := ref.Lat * degToRad
	lon := ref.Lon * degToRad
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	east = -sinLon*d.X + cosLon*d.Y
	north = -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z
	up = cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z
	return east, north, up
}

// HeadingPitch returns the direction of travel from a to b as a compass
// heading in [0, 360) and a flight-path pitch in [-90, 90], both in degrees.
// ok is false when the two points are too close to define a direction.
func HeadingPitch(a, b Position, at time.Time) (heading, pitch float64, ok bool) {
	d := b.ECEF(at).Sub(a.ECEF(at))
	if d.Norm() < minDisplacementKm {
		return 0, 0, false
	}
	mid := Position{Lat: (a.Lat + b.Lat) / 2, Lon: a.Lon + wrapLongitude(b.Lon-a.Lon)/2}
	e, n, u := ENU(mid, d)
	heading = normalizeHeading(math.Atan2(e, n) * radToDeg)
	pitch = math.Atan2(u, math.Hypot(e, n)) * radToDeg
	return heading, pitch, true
}

// wrapLongitude folds a longitude or longitude difference into [-180, 180).
// Values already in range come back unchanged.
func wrapLongitude(d float64) float64 {
	if d >= -180 && d < 180 {
		return d
	}
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}

func normalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}
