// Package refdata reads the OpenFlights airport and route tables and turns
// them into the static layers drawn on the globe.
package refdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// DefaultCountries are the countries whose airports are kept when none are
// configured.
var DefaultCountries = []string{"Morocco", "France"}

// nullField marks a missing value in the OpenFlights tables.
const nullField = `\N`

// airports.dat columns
const (
	aptName    = 1
	aptCity    = 2
	aptCountry = 3
	aptIATA    = 4
	aptLat     = 6
	aptLon     = 7
	aptFields  = 8
)

// routes.dat columns
const (
	rteSource = 2
	rteDest   = 4
	rteFields = 6
)

// Airport is an airport with a usable IATA code.
type Airport struct {
	IATA    string  `json:"iata"`
	Name    string  `json:"name"`
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Route connects two airports by IATA code.
type Route struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// Data is the filtered reference set.
type Data struct {
	Airports map[string]Airport
	Routes   []Route
}

// SortedAirports returns the airports ordered by IATA code.
func (d *Data) SortedAirports() []Airport {
	out := make([]Airport, 0, len(d.Airports))
	for _, a := range d.Airports {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Airport) int { return strings.Compare(a.IATA, b.IATA) })
	return out
}

// LoadFiles parses both tables from disk.
func LoadFiles(airportsPath, routesPath string, countries []string) (*Data, error) {
	af, err := os.Open(airportsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open airports file: %w", err)
	}
	defer af.Close()

	airports, err := ParseAirports(af, countries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", airportsPath, err)
	}

	rf, err := os.Open(routesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open routes file: %w", err)
	}
	defer rf.Close()

	routes, err := ParseRoutes(rf, airports)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", routesPath, err)
	}

	return &Data{Airports: airports, Routes: routes}, nil
}

// ParseAirports reads airports.dat and keeps airports located in one of
// countries (DefaultCountries when empty) that have an IATA code.
// Rows that cannot be parsed are skipped.
func ParseAirports(r io.Reader, countries []string) (map[string]Airport, error) {
	if len(countries) == 0 {
		countries = DefaultCountries
	}

	airports := make(map[string]Airport)
	err := eachRecord(r, func(rec []string) {
		if len(rec) < aptFields {
			return
		}
		country := rec[aptCountry]
		if !slices.Contains(countries, country) {
			return
		}
		iata := strings.TrimSpace(rec[aptIATA])
		if iata == "" || iata == nullField {
			return
		}
		lat, err := strconv.ParseFloat(rec[aptLat], 64)
		if err != nil {
			return
		}
		lon, err := strconv.ParseFloat(rec[aptLon], 64)
		if err != nil {
			return
		}

		airports[iata] = Airport{
			IATA:    iata,
			Name:    rec[aptName],
			City:    rec[aptCity],
			Country: country,
			Lat:     lat,
			Lon:     lon,
		}
	})
	return airports, err
}

// ParseRoutes reads routes.dat and keeps routes whose endpoints are both
// known airports in different countries. Repeated pairs (one per operating
// airline in the table) are collapsed.
func ParseRoutes(r io.Reader, airports map[string]Airport) ([]Route, error) {
	seen := make(map[Route]bool)
	var routes []Route

	err := eachRecord(r, func(rec []string) {
		if len(rec) < rteFields {
			return
		}
		src, ok := airports[rec[rteSource]]
		if !ok {
			return
		}
		dst, ok := airports[rec[rteDest]]
		if !ok || src.Country == dst.Country {
			return
		}

		rt := Route{Source: src.IATA, Dest: dst.IATA}
		if seen[rt] {
			return
		}
		seen[rt] = true
		routes = append(routes, rt)
	})
	return routes, err
}

// eachRecord feeds every parsable CSV record of r to fn. The tables have no
// header and use C-style quoting that is not always balanced, so quotes are
// read lazily and rows the reader still rejects are skipped.
func eachRecord(r io.Reader, fn func([]string)) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error parsing CSV: %w", err)
		}
		fn(rec)
	}
}
