package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// System metadata keys.
const (
	MetadataReverseGeocodingState = "reverse-geocoding-state"
	MetadataSystemConfigVersion   = "system-config-version"
)

// GetMetadata retrieves a metadata value by key. It returns ErrNotFound if
// the key doesn't exist.
func (d *Database) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	var value sql.NullString
	err := d.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	recordQuery("get_metadata", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value.String, nil
}

// SetMetadata sets a metadata key-value pair.
func (d *Database) SetMetadata(ctx context.Context, key, value string) error {
	_, err := d.exec(ctx, "set_metadata", `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadataJSON decodes a JSON metadata value into v. A missing key leaves
// v untouched and reports false.
func (d *Database) GetMetadataJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := d.GetMetadata(ctx, key)
	if errors.Is(err, ErrNotFound) || (err == nil && raw == "") {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

// SetMetadataJSON stores v as JSON.
func (d *Database) SetMetadataJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return d.SetMetadata(ctx, key, string(data))
}
