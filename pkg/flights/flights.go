// Package flights turns the raw OpenSky state-vector feed into typed flight
// records restricted to one or more regions of interest.
package flights

import "fmt"

// Record represents one aircraft from a single poll of the feed.
// All position data is in the WGS84 coordinate system.
type Record struct {
	// ICAO24 is the unique 24-bit transponder address as lower-case hex (e.g., "3c6444")
	ICAO24 string `json:"icao24"`

	// Callsign is the trimmed flight callsign, nil when the feed has none
	Callsign *string `json:"callsign"`

	// Latitude in decimal degrees (-90 to +90)
	Latitude float64 `json:"latitude"`

	// Longitude in decimal degrees (-180 to +180)
	Longitude float64 `json:"longitude"`

	// Altitude is the barometric altitude in meters, 0 when not reported
	Altitude float64 `json:"altitude"`

	// Velocity is the ground speed in m/s, 0 when not reported
	Velocity float64 `json:"velocity"`

	// Heading is the true track in degrees [0, 360), 0 = North, clockwise.
	// 0 when not reported.
	Heading float64 `json:"heading"`
}

// Label returns the callsign when known, otherwise the ICAO24 address.
func (r Record) Label() string {
	if r.Callsign != nil {
		return *r.Callsign
	}
	return r.ICAO24
}

// BoundingBox is a latitude/longitude rectangle. Both intervals are closed,
// so a point on an edge or a corner is inside.
type BoundingBox struct {
	Name   string  `json:"name" yaml:"name"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Validate checks the box bounds.
func (b BoundingBox) Validate() error {
	if b.MinLat > b.MaxLat {
		return fmt.Errorf("region %q: min_lat %.4f greater than max_lat %.4f", b.Name, b.MinLat, b.MaxLat)
	}
	if b.MinLon > b.MaxLon {
		return fmt.Errorf("region %q: min_lon %.4f greater than max_lon %.4f", b.Name, b.MinLon, b.MaxLon)
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("region %q: latitude outside [-90, 90]", b.Name)
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("region %q: longitude outside [-180, 180]", b.Name)
	}
	return nil
}

// DefaultBoxes returns the built-in regions of interest: Morocco and France.
func DefaultBoxes() []BoundingBox {
	return []BoundingBox{
		{Name: "morocco", MinLat: 21, MaxLat: 36, MinLon: -17, MaxLon: -1},
		{Name: "france", MinLat: 41, MaxLat: 51, MinLon: -5, MaxLon: 10},
	}
}

// inAnyBox reports whether the point falls inside at least one box.
func inAnyBox(boxes []BoundingBox, lat, lon float64) bool {
	for _, b := range boxes {
		if b.Contains(lat, lon) {
			return true
		}
	}
	return false
}
