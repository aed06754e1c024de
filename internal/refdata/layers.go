package refdata

import (
	"github.com/unklstewy/flightglobe/internal/scene"
	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

// Seed builds the static scene layers: a surface marker per airport and an
// arc per route. A route flown in both directions is drawn once.
func Seed(airports []Airport, routes []Route) scene.Layers {
	byCode := make(map[string]Airport, len(airports))
	layers := scene.Layers{
		Airports: make([]scene.Marker, 0, len(airports)),
	}

	for _, a := range airports {
		byCode[a.IATA] = a
		layers.Airports = append(layers.Airports, scene.Marker{
			Code:     a.IATA,
			Name:     a.Name,
			Country:  a.Country,
			Position: geodesy.ToCartesian(a.Lat, a.Lon, 0),
		})
	}

	drawn := make(map[Route]bool)
	for _, rt := range routes {
		src, ok1 := byCode[rt.Source]
		dst, ok2 := byCode[rt.Dest]
		if !ok1 || !ok2 {
			continue
		}
		if drawn[rt] || drawn[Route{Source: rt.Dest, Dest: rt.Source}] {
			continue
		}
		drawn[rt] = true

		from := geodesy.GeoPoint{Lat: src.Lat, Lon: src.Lon}
		to := geodesy.GeoPoint{Lat: dst.Lat, Lon: dst.Lon}
		layers.Routes = append(layers.Routes, scene.Polyline{
			From:       rt.Source,
			To:         rt.Dest,
			Points:     geodesy.ArcPoints(from.Cartesian(), to.Cartesian()),
			DistanceNM: geodesy.DistanceNauticalMiles(from, to),
			Bearing:    geodesy.Bearing(from, to),
		})
	}

	return layers
}
