package geodesy

import "math"

// ToCartesian converts a geodetic position to ECEF coordinates on the WGS84
// ellipsoid. lat and lon are in degrees, alt in meters above the ellipsoid.
//
//	N = a / sqrt(1 - e²·sin²(lat))
//	x = (N + alt)·cos(lat)·cos(lon)
//	y = (N + alt)·cos(lat)·sin(lon)
//	z = (N·(1 - e²) + alt)·sin(lat)
func ToCartesian(lat, lon, alt float64) Vec3 {
	latRad := lat * DegreesToRadians
	lonRad := lon * DegreesToRadians

	sinLat, cosLat := math.Sincos(latRad)
	sinLon, cosLon := math.Sincos(lonRad)

	n := SemiMajorAxis / math.Sqrt(1-EccentricitySquared*sinLat*sinLat)

	return Vec3{
		X: (n + alt) * cosLat * cosLon,
		Y: (n + alt) * cosLat * sinLon,
		Z: (n*(1-EccentricitySquared) + alt) * sinLat,
	}
}

// ToGeodetic is the inverse of ToCartesian, using Bowring's closed-form
// approximation (sub-millimetre for aircraft altitudes).
func ToGeodetic(p Vec3) GeoPoint {
	a := SemiMajorAxis
	b := PolarRadius
	e2 := EccentricitySquared
	ep2 := (a*a - b*b) / (b * b)

	horiz := math.Hypot(p.X, p.Y)
	lon := math.Atan2(p.Y, p.X)

	theta := math.Atan2(p.Z*a, horiz*b)
	sinT, cosT := math.Sincos(theta)
	lat := math.Atan2(p.Z+ep2*b*sinT*sinT*sinT, horiz-e2*a*cosT*cosT*cosT)

	sinLat, cosLat := math.Sincos(lat)
	n := a / math.Sqrt(1-e2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = horiz/cosLat - n
	} else {
		alt = math.Abs(p.Z) - b
	}

	return GeoPoint{
		Lat: lat * RadiansToDegrees,
		Lon: lon * RadiansToDegrees,
		Alt: alt,
	}
}
