// Package geodesy converts geographic positions into the Earth-centred,
// Earth-fixed (ECEF) Cartesian frame used by the globe renderer and derives
// the local tangent frame needed to orient aircraft models.
//
// All functions are pure: they hold no state and are safe for concurrent use.
package geodesy

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// SemiMajorAxis is the WGS84 equatorial radius in meters
	SemiMajorAxis = 6378137.0

	// EccentricitySquared is the WGS84 first eccentricity squared
	EccentricitySquared = 0.00669437999014

	// EarthRadiusKm is the Earth's mean radius in kilometers
	EarthRadiusKm = 6371.0
)

// PolarRadius is the WGS84 semi-minor axis in meters, derived from the
// semi-major axis and eccentricity.
var PolarRadius = SemiMajorAxis * math.Sqrt(1-EccentricitySquared)

// GeoPoint is a position on or above the WGS84 ellipsoid.
type GeoPoint struct {
	// Lat in decimal degrees (-90 to +90), positive north
	Lat float64

	// Lon in decimal degrees (-180 to +180), positive east
	Lon float64

	// Alt in meters above the ellipsoid
	Alt float64
}

// Cartesian returns the ECEF position of the point.
func (g GeoPoint) Cartesian() Vec3 {
	return ToCartesian(g.Lat, g.Lon, g.Alt)
}

// NormalizeHeading maps any angle in degrees into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360.0)
	if h < 0 {
		h += 360.0
	}
	// tiny negative inputs round up to exactly 360 after the shift
	if h >= 360.0 {
		h = 0
	}
	return h
}

// Bearing calculates the initial great-circle bearing from one point to another.
// Returns degrees in [0, 360) where 0 = North, 90 = East.
func Bearing(from, to GeoPoint) float64 {
	lat1 := from.Lat * DegreesToRadians
	lat2 := to.Lat * DegreesToRadians
	dLon := (to.Lon - from.Lon) * DegreesToRadians

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeHeading(math.Atan2(y, x) * RadiansToDegrees)
}

// DistanceNauticalMiles calculates the great-circle distance between two points
// using the Haversine formula on a spherical Earth.
func DistanceNauticalMiles(from, to GeoPoint) float64 {
	lat1 := from.Lat * DegreesToRadians
	lat2 := to.Lat * DegreesToRadians
	dLat := lat2 - lat1
	dLon := (to.Lon - from.Lon) * DegreesToRadians

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	// 1 nm = 1.852 km
	return EarthRadiusKm * c / 1.852
}
