package flights

// fallbackRecords is the fixed set shown while the feed is unavailable.
// Every entry lies inside DefaultBoxes.
var fallbackRecords = []struct {
	icao24, callsign            string
	lat, lon, alt, speed, track float64
}{
	{"020123", "RAM200", 33.5731, -7.5898, 10500, 230, 35},
	{"0201f2", "RAM975", 31.6295, -7.9811, 8200, 210, 20},
	{"39de4f", "AFR1478", 45.7640, 4.8357, 11000, 240, 190},
	{"3944ef", "TVF32RB", 43.6047, 1.4442, 9800, 220, 210},
	{"3c6444", "DLH4AB", 48.8566, 2.3522, 11300, 245, 75},
}

// FallbackRecords returns a fresh copy of the fixed fallback flight set.
func FallbackRecords() []Record {
	out := make([]Record, 0, len(fallbackRecords))
	for _, f := range fallbackRecords {
		callsign := f.callsign
		out = append(out, Record{
			ICAO24:    f.icao24,
			Callsign:  &callsign,
			Latitude:  f.lat,
			Longitude: f.lon,
			Altitude:  f.alt,
			Velocity:  f.speed,
			Heading:   f.track,
		})
	}
	return out
}
