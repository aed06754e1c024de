package refdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unklstewy/flightglobe/pkg/geodesy"
)

const airportsDat = `1382,"Charles de Gaulle International Airport","Paris","France","CDG","LFPG",49.012798,2.55,392,1,"E","Europe/Paris","airport","OurAirports"
1074,"Mohammed V International Airport","Casablanca","Morocco","CMN","GMMN",33.3675,-7.58997,656,0,"N","Africa/Casablanca","airport","OurAirports"
1386,"Lyon Saint-Exupéry Airport","Lyon","France","LYS","LFLL",45.725556,5.081111,821,1,"E","Europe/Paris","airport","OurAirports"
1065,"Marrakech Menara Airport","Marrakech","Morocco","RAK","GMMX",31.606899,-8.0363,1545,0,"N","Africa/Casablanca","airport","OurAirports"
9999,"Nowhere Strip","Nowhere","France",\N,"LFXX",45.0,2.0,100,1,"E","Europe/Paris","airport","OurAirports"
507,"London Heathrow Airport","London","United Kingdom","LHR","EGLL",51.4706,-0.461941,83,0,"E","Europe/London","airport","OurAirports"
1,"Short","row"
2,"Bad Latitude","Paris","France","BAD","LFZZ",abc,2.0,0,1,"E","Europe/Paris","airport","OurAirports"
`

const routesDat = `AF,137,CDG,1382,CMN,1074,,0,320
AT,130,CMN,1074,CDG,1382,,0,738
TO,4026,CDG,1382,CMN,1074,,0,73H
AF,137,CDG,1382,LYS,1386,,0,320
BA,1355,LHR,507,CMN,1074,,0,320
AT,130,RAK,1065,LYS,1386,,0,738
AF,137,CDG
`

func TestParseAirports(t *testing.T) {
	airports, err := ParseAirports(strings.NewReader(airportsDat), nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(airports) != 4 {
		t.Fatalf("Expected 4 airports, got %d: %v", len(airports), airports)
	}
	for _, code := range []string{"CDG", "CMN", "LYS", "RAK"} {
		if _, ok := airports[code]; !ok {
			t.Errorf("Expected airport %s", code)
		}
	}
	if _, ok := airports["LHR"]; ok {
		t.Error("Expected LHR to be filtered by country")
	}

	cdg := airports["CDG"]
	if cdg.Name != "Charles de Gaulle International Airport" || cdg.City != "Paris" {
		t.Errorf("Expected unquoted name and city, got %+v", cdg)
	}
	if cdg.Lat != 49.012798 || cdg.Lon != 2.55 {
		t.Errorf("Unexpected coordinates: %f, %f", cdg.Lat, cdg.Lon)
	}
}

func TestParseAirportsCountries(t *testing.T) {
	airports, err := ParseAirports(strings.NewReader(airportsDat), []string{"Morocco"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(airports) != 2 {
		t.Errorf("Expected 2 Moroccan airports, got %d", len(airports))
	}
	for _, a := range airports {
		if a.Country != "Morocco" {
			t.Errorf("Unexpected country %s", a.Country)
		}
	}
}

func TestParseRoutes(t *testing.T) {
	airports, _ := ParseAirports(strings.NewReader(airportsDat), nil)
	routes, err := ParseRoutes(strings.NewReader(routesDat), airports)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []Route{
		{Source: "CDG", Dest: "CMN"},
		{Source: "CMN", Dest: "CDG"},
		{Source: "RAK", Dest: "LYS"},
	}
	if len(routes) != len(want) {
		t.Fatalf("Expected %d routes, got %d: %v", len(want), len(routes), routes)
	}
	for i := range want {
		if routes[i] != want[i] {
			t.Errorf("Route %d: expected %v, got %v", i, want[i], routes[i])
		}
	}
}

func TestSeed(t *testing.T) {
	airports, _ := ParseAirports(strings.NewReader(airportsDat), nil)
	routes, _ := ParseRoutes(strings.NewReader(routesDat), airports)
	data := &Data{Airports: airports, Routes: routes}

	layers := Seed(data.SortedAirports(), data.Routes)

	if len(layers.Airports) != 4 {
		t.Fatalf("Expected 4 markers, got %d", len(layers.Airports))
	}
	if layers.Airports[0].Code != "CDG" || layers.Airports[3].Code != "RAK" {
		t.Errorf("Expected markers sorted by code, got %s..%s", layers.Airports[0].Code, layers.Airports[3].Code)
	}
	cdg := layers.Airports[0].Position
	if cdg != geodesy.ToCartesian(49.012798, 2.55, 0) {
		t.Errorf("Unexpected CDG marker position %v", cdg)
	}

	// CDG-CMN is flown both ways but drawn once
	if len(layers.Routes) != 2 {
		t.Fatalf("Expected 2 arcs, got %d", len(layers.Routes))
	}
	arc := layers.Routes[0]
	if arc.From != "CDG" || arc.To != "CMN" {
		t.Errorf("Expected CDG-CMN arc first, got %s-%s", arc.From, arc.To)
	}
	if len(arc.Points) != geodesy.ArcSegments+1 {
		t.Errorf("Expected %d points, got %d", geodesy.ArcSegments+1, len(arc.Points))
	}
	if arc.Points[0] != cdg {
		t.Errorf("Expected arc to start at CDG, got %v", arc.Points[0])
	}

	// CDG to Casablanca is roughly 1030 nm heading south-southwest
	if arc.DistanceNM < 950 || arc.DistanceNM > 1100 {
		t.Errorf("Expected about 1030 nm, got %f", arc.DistanceNM)
	}
	if arc.Bearing < 180 || arc.Bearing > 270 {
		t.Errorf("Expected a southwesterly bearing, got %f", arc.Bearing)
	}

	// the arc rises above the surface between its ends
	mid := arc.Points[geodesy.ArcSegments/2]
	if mid.Length() <= cdg.Length() {
		t.Errorf("Expected arc midpoint above the surface, got radius %f", mid.Length())
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "airports.dat")
	rPath := filepath.Join(dir, "routes.dat")
	os.WriteFile(aPath, []byte(airportsDat), 0644)
	os.WriteFile(rPath, []byte(routesDat), 0644)

	data, err := LoadFiles(aPath, rPath, DefaultCountries)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(data.Airports) != 4 || len(data.Routes) != 3 {
		t.Errorf("Expected 4 airports and 3 routes, got %d and %d", len(data.Airports), len(data.Routes))
	}

	if _, err := LoadFiles(filepath.Join(dir, "missing.dat"), rPath, nil); err == nil {
		t.Error("Expected error for missing airports file")
	}
}
