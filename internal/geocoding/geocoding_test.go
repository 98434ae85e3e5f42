package geocoding

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"media-pipeline/internal/database"
)

const testCities = "2988507\tParis\tParis\t\t48.85341\t2.3488\tP\tPPLC\tFR\t\t11\t75\t751\t75056\t2138551\t\t42\tEurope/Paris\t2024-06-06\n" +
	"2643743\tLondon\tLondon\t\t51.50853\t-0.12574\tP\tPPLC\tGB\t\tENG\tGLA\t\t\t8961989\t\t25\tEurope/London\t2024-02-19\n" +
	"2972315\tToulouse\tToulouse\t\t43.60426\t1.44367\tP\tPPLA\tFR\t\t76\t31\t313\t31555\t493465\t\t150\tEurope/Paris\t2024-06-06\n"

const testAdmin1 = "FR.11\tÎle-de-France\tIle-de-France\t3012874\n" +
	"FR.76\tOccitanie\tOccitanie\t11071623\n" +
	"GB.ENG\tEngland\tEngland\t6269131\n"

const testAdmin2 = "FR.11.75\tParis\tParis\t2968815\n" +
	"GB.ENG.GLA\tGreater London\tGreater London\t2648110\n"

func writeGeodata(t *testing.T, dir, date string) {
	t.Helper()
	files := map[string]string{
		CitiesFile: testCities,
		Admin1File: testAdmin1,
		Admin2File: testAdmin2,
		DateFile:   date + "\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func setupService(t *testing.T) (*Service, *database.Database, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	dbDir := t.TempDir()
	db, err := database.New(context.Background(), filepath.Join(dbDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dataDir := t.TempDir()
	writeGeodata(t, dataDir, "2024-06-10")
	return New(db, dataDir, dbDir), db, dataDir
}

func TestInitAndReverseGeocode(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()

	if err := svc.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	state, err := db.GetGeodataState(ctx)
	if err != nil {
		t.Fatalf("GetGeodataState() error = %v", err)
	}
	if state.LastUpdate != "2024-06-10" || state.LastImportFileName != CitiesFile {
		t.Errorf("unexpected state %+v", state)
	}

	tests := []struct {
		name     string
		lat, lon float64
		want     *Place
	}{
		{"near paris", 48.86, 2.35, &Place{Country: "France", State: "Paris, Île-de-France", City: "Paris"}},
		{"toulouse without admin2 name", 43.61, 1.44, &Place{Country: "France", State: "Occitanie", City: "Toulouse"}},
		{"london", 51.5, -0.12, &Place{Country: "United Kingdom", State: "Greater London, England", City: "London"}},
		{"middle of the atlantic", 40.0, -40.0, nil},
		{"out of range", 91, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ReverseGeocode(ctx, tt.lat, tt.lon)
			if err != nil {
				t.Fatalf("ReverseGeocode() error = %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("ReverseGeocode() = %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("ReverseGeocode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInitSkipsCurrentData(t *testing.T) {
	svc, db, dataDir := setupService(t)
	ctx := context.Background()

	if err := svc.Init(ctx); err != nil {
		t.Fatalf("first Init() error = %v", err)
	}

	// corrupt the source: a second import would fail, so success proves a skip
	if err := os.WriteFile(filepath.Join(dataDir, CitiesFile), []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(ctx); err != nil {
		t.Fatalf("second Init() should skip, got %v", err)
	}

	// a new date forces a reimport, which now fails and must roll back
	writeGeodata(t, dataDir, "2024-07-01")
	if err := os.WriteFile(filepath.Join(dataDir, CitiesFile), []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(ctx); err == nil {
		t.Fatal("expected import error for malformed cities file")
	}
	state, _ := db.GetGeodataState(ctx)
	if state.LastUpdate != "2024-06-10" {
		t.Errorf("failed import must keep previous state, got %q", state.LastUpdate)
	}
	if place, _ := svc.ReverseGeocode(ctx, 48.86, 2.35); place == nil || place.City != "Paris" {
		t.Errorf("failed import must keep previous data, got %+v", place)
	}
}

func TestInitMissingFiles(t *testing.T) {
	svc := New(nil, "", t.TempDir())
	if err := svc.Init(context.Background()); err == nil {
		t.Error("expected error without a data directory")
	}
}

func TestHaversine(t *testing.T) {
	// Paris to London is roughly 344km
	d := haversine(48.85341, 2.3488, 51.50853, -0.12574)
	if math.Abs(d-344) > 5 {
		t.Errorf("haversine(Paris, London) = %.1f, want ~344", d)
	}
	if d := haversine(10, 10, 10, 10); d != 0 {
		t.Errorf("haversine of identical points = %f", d)
	}
}

func TestBoundingBox(t *testing.T) {
	minLat, maxLat, minLon, maxLon := boundingBox(0, 0, SearchRadiusKm)
	if maxLat-minLat < 0.44 || maxLat-minLat > 0.46 {
		t.Errorf("latitude span = %f", maxLat-minLat)
	}
	if maxLon-minLon < 0.44 || maxLon-minLon > 0.46 {
		t.Errorf("longitude span at equator = %f", maxLon-minLon)
	}

	_, _, minLon, maxLon = boundingBox(89.999, 0, SearchRadiusKm)
	if minLon != -180 || maxLon != 180 {
		t.Errorf("near the pole the box should span all longitudes, got %f..%f", minLon, maxLon)
	}
}

func TestCountryName(t *testing.T) {
	tests := map[string]string{
		"FR":  "France",
		"de":  "Germany",
		"JP":  "Japan",
		"":    "",
		"ZZZ": "",
	}
	for code, want := range tests {
		if got := CountryName(code); got != want {
			t.Errorf("CountryName(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestReadTSVSkipsBlankAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	content := strings.Join([]string{"# header", "", "a\tb", "c\td"}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	var got []string
	err := readTSV(path, func(_ int, fields []string) error {
		got = append(got, fields[0])
		return nil
	})
	if err != nil {
		t.Fatalf("readTSV() error = %v", err)
	}
	if strings.Join(got, ",") != "a,c" {
		t.Errorf("readTSV() rows = %v", got)
	}
}
