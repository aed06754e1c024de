package flights

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

// Positions of the fields inside an OpenSky state vector.
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html#all-state-vectors
const (
	idxICAO24         = 0
	idxCallsign       = 1
	idxOriginCountry  = 2
	idxTimePosition   = 3
	idxLastContact    = 4
	idxLongitude      = 5
	idxLatitude       = 6
	idxBaroAltitude   = 7
	idxOnGround       = 8
	idxVelocity       = 9
	idxTrueTrack      = 10
	idxVerticalRate   = 11
	idxSensors        = 12
	idxGeoAltitude    = 13
	idxSquawk         = 14
	idxSPI            = 15
	idxPositionSource = 16

	// minStateFields is the shortest row that still carries a position
	minStateFields = idxLatitude + 1
)

// StateVector is one raw, loosely typed row of the feed.
type StateVector []json.RawMessage

// decodeState converts a raw row into a Record.
//
// ok is false when the row has no usable position (lat or lon null or zero),
// which is a normal filtering outcome. err is non-nil when the row fails the
// shape checks and must be counted as malformed.
func decodeState(row StateVector) (rec Record, ok bool, err error) {
	if len(row) < minStateFields {
		return Record{}, false, fmt.Errorf("state vector has %d fields, need at least %d", len(row), minStateFields)
	}

	var icao string
	if err := json.Unmarshal(row[idxICAO24], &icao); err != nil {
		return Record{}, false, fmt.Errorf("icao24: %w", err)
	}
	icao = strings.ToLower(strings.TrimSpace(icao))
	if icao == "" {
		return Record{}, false, fmt.Errorf("icao24: empty")
	}

	lon, lonOK, err := numberField(row, idxLongitude)
	if err != nil {
		return Record{}, false, fmt.Errorf("longitude: %w", err)
	}
	lat, latOK, err := numberField(row, idxLatitude)
	if err != nil {
		return Record{}, false, fmt.Errorf("latitude: %w", err)
	}
	// zero is the feed's "no position" sentinel as much as null is
	if !lonOK || !latOK || lon == 0 || lat == 0 {
		return Record{}, false, nil
	}

	rec = Record{
		ICAO24:    icao,
		Latitude:  lat,
		Longitude: lon,
		Callsign:  callsignField(row),
		Altitude:  optionalNumber(row, idxBaroAltitude),
		Velocity:  optionalNumber(row, idxVelocity),
		Heading:   geodesy.NormalizeHeading(optionalNumber(row, idxTrueTrack)),
	}
	return rec, true, nil
}

// numberField reads a numeric field. present is false for null or a missing
// index; a non-numeric value is an error.
func numberField(row StateVector, idx int) (v float64, present bool, err error) {
	if idx >= len(row) || isNull(row[idx]) {
		return 0, false, nil
	}
	if err := json.Unmarshal(row[idx], &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// optionalNumber reads a numeric field, defaulting to 0 when it is missing,
// null or not a number.
func optionalNumber(row StateVector, idx int) float64 {
	v, ok, err := numberField(row, idx)
	if err != nil || !ok {
		return 0
	}
	return v
}

// callsignField returns the trimmed callsign or nil when absent or blank.
func callsignField(row StateVector) *string {
	if idxCallsign >= len(row) || isNull(row[idxCallsign]) {
		return nil
	}
	var s string
	if err := json.Unmarshal(row[idxCallsign], &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
