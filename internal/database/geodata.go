package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// GeodataTx loads a complete geodata set inside one transaction.
type GeodataTx struct {
	tx                     *sql.Tx
	places, admin1, admin2 *sql.Stmt
}

// ReplaceGeodata clears the geodata tables and calls load to refill them.
// Nothing is visible to readers unless load returns nil.
func (d *Database) ReplaceGeodata(ctx context.Context, load func(*GeodataTx) error) error {
	start := time.Now()
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"geodata_places", "geodata_admin1", "geodata_admin2"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return err
			}
		}

		g := &GeodataTx{tx: tx}
		var err error
		if g.places, err = tx.PrepareContext(ctx, `
			INSERT INTO geodata_places (id, name, latitude, longitude, country_code, admin1_code, admin2_code, modification_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
			return err
		}
		defer g.places.Close()
		if g.admin1, err = tx.PrepareContext(ctx, `INSERT OR REPLACE INTO geodata_admin1 (key, name) VALUES (?, ?)`); err != nil {
			return err
		}
		defer g.admin1.Close()
		if g.admin2, err = tx.PrepareContext(ctx, `INSERT OR REPLACE INTO geodata_admin2 (key, name) VALUES (?, ?)`); err != nil {
			return err
		}
		defer g.admin2.Close()

		return load(g)
	})
	recordQuery("replace_geodata", start, err)
	return err
}

// InsertPlaces adds a batch of places.
func (g *GeodataTx) InsertPlaces(ctx context.Context, places []GeodataPlace) error {
	for _, p := range places {
		if _, err := g.places.ExecContext(ctx, p.ID, p.Name, p.Latitude, p.Longitude, p.CountryCode,
			nullString(p.Admin1Code), nullString(p.Admin2Code), nullString(p.ModificationDate)); err != nil {
			return err
		}
	}
	return nil
}

// InsertAdmin1 adds first-level administrative division names keyed by
// "CC.admin1".
func (g *GeodataTx) InsertAdmin1(ctx context.Context, names map[string]string) error {
	for key, name := range names {
		if _, err := g.admin1.ExecContext(ctx, key, name); err != nil {
			return err
		}
	}
	return nil
}

// InsertAdmin2 adds second-level names keyed by "CC.admin1.admin2".
func (g *GeodataTx) InsertAdmin2(ctx context.Context, names map[string]string) error {
	for key, name := range names {
		if _, err := g.admin2.ExecContext(ctx, key, name); err != nil {
			return err
		}
	}
	return nil
}

// SetState records the import state in the same transaction as the data.
func (g *GeodataTx) SetState(ctx context.Context, state GeodataState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = g.tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		MetadataReverseGeocodingState, string(data))
	return err
}

// GetGeodataState returns the last import state; zero if never imported.
func (d *Database) GetGeodataState(ctx context.Context) (GeodataState, error) {
	var state GeodataState
	_, err := d.GetMetadataJSON(ctx, MetadataReverseGeocodingState, &state)
	return state, err
}

// PlacesInBox returns places inside a latitude/longitude box with their
// admin names resolved.
func (d *Database) PlacesInBox(ctx context.Context, minLat, maxLat, minLon, maxLon float64) ([]GeodataPlace, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.latitude, p.longitude, p.country_code,
			COALESCE(p.admin1_code, ''), COALESCE(p.admin2_code, ''),
			COALESCE(a1.name, ''), COALESCE(a2.name, '')
		FROM geodata_places p
		LEFT JOIN geodata_admin1 a1 ON a1.key = p.country_code || '.' || p.admin1_code
		LEFT JOIN geodata_admin2 a2 ON a2.key = p.country_code || '.' || p.admin1_code || '.' || p.admin2_code
		WHERE p.latitude BETWEEN ? AND ? AND p.longitude BETWEEN ? AND ?`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		recordQuery("places_in_box", start, err)
		return nil, err
	}
	defer rows.Close()

	var places []GeodataPlace
	for rows.Next() {
		var p GeodataPlace
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.CountryCode,
			&p.Admin1Code, &p.Admin2Code, &p.Admin1Name, &p.Admin2Name); err != nil {
			recordQuery("places_in_box", start, err)
			return nil, err
		}
		places = append(places, p)
	}
	err = rows.Err()
	recordQuery("places_in_box", start, err)
	return places, err
}
