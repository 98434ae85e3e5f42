package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// LoadSystemConfig returns the stored configuration overrides keyed by
// dotted path, and the current config version.
func (d *Database) LoadSystemConfig(ctx context.Context) (map[string]string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, `SELECT key, value FROM system_config`)
	if err != nil {
		recordQuery("load_system_config", start, err)
		return nil, 0, err
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			recordQuery("load_system_config", start, err)
			return nil, 0, err
		}
		overrides[key] = value
	}
	if err := rows.Err(); err != nil {
		recordQuery("load_system_config", start, err)
		return nil, 0, err
	}
	recordQuery("load_system_config", start, nil)

	version, err := d.SystemConfigVersion(ctx)
	return overrides, version, err
}

// SystemConfigVersion returns the persisted config version; 0 if the
// config was never saved.
func (d *Database) SystemConfigVersion(ctx context.Context) (int64, error) {
	raw, err := d.GetMetadata(ctx, MetadataSystemConfigVersion)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SaveSystemConfig replaces all overrides and bumps the version in one
// transaction. It returns the new version.
func (d *Database) SaveSystemConfig(ctx context.Context, overrides map[string]string) (int64, error) {
	var version int64
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		if _, err := tx.ExecContext(ctx, `DELETE FROM system_config`); err != nil {
			recordQuery("save_system_config", start, err)
			return err
		}
		for key, value := range overrides {
			if _, err := tx.ExecContext(ctx, `INSERT INTO system_config (key, value) VALUES (?, ?)`, key, value); err != nil {
				recordQuery("save_system_config", start, err)
				return err
			}
		}

		var current sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, MetadataSystemConfigVersion).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			recordQuery("save_system_config", start, err)
			return err
		}
		if current.Valid {
			if version, err = strconv.ParseInt(current.String, 10, 64); err != nil {
				version = 0
			}
		}
		version++

		_, err = tx.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			MetadataSystemConfigVersion, strconv.FormatInt(version, 10))
		recordQuery("save_system_config", start, err)
		return err
	})
	return version, err
}
