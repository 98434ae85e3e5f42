package geocoding

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"

	"github.com/gofrs/flock"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Input files expected in the geodata directory, as published by GeoNames.
const (
	CitiesFile = "cities500.txt"
	Admin1File = "admin1CodesASCII.txt"
	Admin2File = "admin2Codes.txt"
	DateFile   = "geodata-date.txt"
)

const (
	// LockID names the import lock shared by all processes of a deployment.
	LockID = 100

	// SearchRadiusKm is the maximum distance of a reverse geocoding match.
	SearchRadiusKm = 25.0

	earthRadiusKm = 6371.0
	kmPerDegree   = 111.32
	batchSize     = 1000
	lockRetry     = 250 * time.Millisecond
)

// Store is the geodata persistence used by Service.
type Store interface {
	GetGeodataState(ctx context.Context) (database.GeodataState, error)
	ReplaceGeodata(ctx context.Context, load func(*database.GeodataTx) error) error
	PlacesInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]database.GeodataPlace, error)
}

// Place is a reverse geocoding result. Empty fields are unknown.
type Place struct {
	Country string
	State   string
	City    string
}

// Service imports GeoNames data and answers coordinate lookups.
type Service struct {
	store   Store
	dataDir string
	lock    *flock.Flock
}

// New creates a service reading geodata files from dataDir. The import lock
// file is created in lockDir, which must be shared by every process using
// the same database.
func New(store Store, dataDir, lockDir string) *Service {
	return &Service{
		store:   store,
		dataDir: dataDir,
		lock:    flock.New(filepath.Join(lockDir, fmt.Sprintf(".lock-%d", LockID))),
	}
}

// ReverseGeocode returns the nearest known place within SearchRadiusKm, or
// nil when there is none.
func (s *Service) ReverseGeocode(ctx context.Context, lat, lon float64) (*Place, error) {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		metrics.ReverseGeocodeTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	minLat, maxLat, minLon, maxLon := boundingBox(lat, lon, SearchRadiusKm)
	candidates, err := s.store.PlacesInBox(ctx, minLat, maxLat, minLon, maxLon)
	if err != nil {
		metrics.ReverseGeocodeTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("reverse geocode %f,%f: %w", lat, lon, err)
	}

	var (
		best     *database.GeodataPlace
		bestDist = math.Inf(1)
	)
	for i := range candidates {
		d := haversine(lat, lon, candidates[i].Latitude, candidates[i].Longitude)
		if d <= SearchRadiusKm && d < bestDist {
			best, bestDist = &candidates[i], d
		}
	}
	if best == nil {
		logging.Debug("No place within %.0fkm of %f,%f", SearchRadiusKm, lat, lon)
		metrics.ReverseGeocodeTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	metrics.ReverseGeocodeTotal.WithLabelValues("found").Inc()
	return &Place{
		Country: CountryName(best.CountryCode),
		State:   joinNonEmpty(", ", best.Admin2Name, best.Admin1Name),
		City:    best.Name,
	}, nil
}

// CountryName returns the English name of an ISO 3166 country code, or ""
// when the code is unknown.
func CountryName(code string) string {
	region, err := language.ParseRegion(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return ""
	}
	return display.English.Regions().Name(region)
}

func boundingBox(lat, lon, radiusKm float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusKm / kmPerDegree
	minLat, maxLat = math.Max(lat-dLat, -90), math.Min(lat+dLat, 90)

	cos := math.Cos(lat * math.Pi / 180)
	if cos < 0.01 {
		return minLat, maxLat, -180, 180
	}
	dLon := dLat / cos
	return minLat, maxLat, math.Max(lon-dLon, -180), math.Min(lon+dLon, 180)
}

// haversine returns the great-circle distance in kilometers.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
