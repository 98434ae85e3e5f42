package geocoding

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

var errNoGeodata = errors.New("geodata directory not configured")

// Init imports the geodata files unless the stored import state already
// matches the date stamp in DateFile. Concurrent callers across processes
// serialize on the import lock; the loser finds the data current and
// returns.
func (s *Service) Init(ctx context.Context) error {
	if s.dataDir == "" {
		return errNoGeodata
	}
	raw, err := os.ReadFile(filepath.Join(s.dataDir, DateFile))
	if err != nil {
		metrics.GeodataImportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("read geodata date: %w", err)
	}
	date := strings.TrimSpace(string(raw))

	locked, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("acquire geodata lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("acquire geodata lock: %s", s.lock.Path())
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			logging.Warn("failed to release geodata lock: %v", err)
		}
	}()

	state, err := s.store.GetGeodataState(ctx)
	if err != nil {
		return fmt.Errorf("read geodata state: %w", err)
	}
	if state.LastUpdate == date {
		logging.Debug("Geodata is current (%s)", date)
		metrics.GeodataImportsTotal.WithLabelValues("current").Inc()
		return nil
	}

	logging.Info("Importing geodata from %s (%s)", s.dataDir, date)
	start := time.Now()
	err = s.store.ReplaceGeodata(ctx, func(tx *database.GeodataTx) error {
		if err := s.loadPlaces(ctx, tx); err != nil {
			return err
		}
		if err := s.loadAdmin(ctx, Admin1File, tx.InsertAdmin1); err != nil {
			return err
		}
		if err := s.loadAdmin(ctx, Admin2File, tx.InsertAdmin2); err != nil {
			return err
		}
		return tx.SetState(ctx, database.GeodataState{LastUpdate: date, LastImportFileName: CitiesFile})
	})
	if err != nil {
		metrics.GeodataImportsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("import geodata: %w", err)
	}

	elapsed := time.Since(start)
	metrics.GeodataImportsTotal.WithLabelValues("imported").Inc()
	metrics.GeodataImportDuration.Set(elapsed.Seconds())
	logging.Info("Geodata import completed in %v", elapsed)
	return nil
}

// loadPlaces reads the GeoNames main table: id, name, ..., latitude (4),
// longitude (5), country (8), admin1 (10), admin2 (11), modification date (18).
func (s *Service) loadPlaces(ctx context.Context, tx *database.GeodataTx) error {
	batch := make([]database.GeodataPlace, 0, batchSize)
	count := 0
	err := readTSV(filepath.Join(s.dataDir, CitiesFile), func(line int, fields []string) error {
		if len(fields) < 19 {
			return fmt.Errorf("%s:%d: expected 19 columns, got %d", CitiesFile, line, len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%s:%d: bad id: %w", CitiesFile, line, err)
		}
		lat, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return fmt.Errorf("%s:%d: bad latitude: %w", CitiesFile, line, err)
		}
		lon, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return fmt.Errorf("%s:%d: bad longitude: %w", CitiesFile, line, err)
		}
		batch = append(batch, database.GeodataPlace{
			ID:               id,
			Name:             fields[1],
			Latitude:         lat,
			Longitude:        lon,
			CountryCode:      fields[8],
			Admin1Code:       fields[10],
			Admin2Code:       fields[11],
			ModificationDate: fields[18],
		})
		if len(batch) == batchSize {
			if err := tx.InsertPlaces(ctx, batch); err != nil {
				return err
			}
			count += len(batch)
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.InsertPlaces(ctx, batch); err != nil {
		return err
	}
	logging.Debug("Loaded %d places", count+len(batch))
	return nil
}

// loadAdmin reads a key/name table such as admin1CodesASCII.txt.
func (s *Service) loadAdmin(ctx context.Context, file string, insert func(context.Context, map[string]string) error) error {
	batch := make(map[string]string, batchSize)
	err := readTSV(filepath.Join(s.dataDir, file), func(line int, fields []string) error {
		if len(fields) < 2 {
			return fmt.Errorf("%s:%d: expected at least 2 columns", file, line)
		}
		batch[fields[0]] = fields[1]
		if len(batch) == batchSize {
			if err := insert(ctx, batch); err != nil {
				return err
			}
			clear(batch)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return insert(ctx, batch)
}

func readTSV(path string, fn func(line int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("geodata file %s not found: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close %s: %v", path, err)
		}
	}()

	scanner := bufio.NewScanner(f)
	// alternate names make some cities500 lines several KB long
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := fn(line, strings.Split(text, "\t")); err != nil {
			return err
		}
	}
	return scanner.Err()
}
