package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertExif writes the full EXIF row of an asset, replacing any previous
// values. Nil fields are stored as NULL.
func (d *Database) UpsertExif(ctx context.Context, e *ExifInfo) error {
	_, err := d.exec(ctx, "upsert_exif", `
		INSERT INTO exif (asset_id, make, model, lens_model, exif_image_width, exif_image_height,
			file_size_in_byte, orientation, date_time_original, modify_date, time_zone,
			f_number, focal_length, iso, exposure_time, latitude, longitude, city, state,
			country, description, fps, colorspace, profile_description, bits_per_sample)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			make = excluded.make,
			model = excluded.model,
			lens_model = excluded.lens_model,
			exif_image_width = excluded.exif_image_width,
			exif_image_height = excluded.exif_image_height,
			file_size_in_byte = excluded.file_size_in_byte,
			orientation = excluded.orientation,
			date_time_original = excluded.date_time_original,
			modify_date = excluded.modify_date,
			time_zone = excluded.time_zone,
			f_number = excluded.f_number,
			focal_length = excluded.focal_length,
			iso = excluded.iso,
			exposure_time = excluded.exposure_time,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			city = excluded.city,
			state = excluded.state,
			country = excluded.country,
			description = excluded.description,
			fps = excluded.fps,
			colorspace = excluded.colorspace,
			profile_description = excluded.profile_description,
			bits_per_sample = excluded.bits_per_sample`,
		e.AssetID, e.Make, e.Model, e.LensModel, e.ExifImageWidth, e.ExifImageHeight,
		e.FileSizeInByte, e.Orientation, unixOrNull(e.DateTimeOriginal), unixOrNull(e.ModifyDate), e.TimeZone,
		e.FNumber, e.FocalLength, e.ISO, e.ExposureTime, e.Latitude, e.Longitude, e.City, e.State,
		e.Country, e.Description, e.FPS, e.Colorspace, e.ProfileDescription, e.BitsPerSample)
	return err
}

// GetExif returns the EXIF row of an asset or ErrNotFound.
func (d *Database) GetExif(ctx context.Context, assetID string) (*ExifInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		e                ExifInfo
		original, modify sql.NullInt64
	)
	start := time.Now()
	err := d.db.QueryRowContext(ctx, `
		SELECT asset_id, make, model, lens_model, exif_image_width, exif_image_height,
			file_size_in_byte, orientation, date_time_original, modify_date, time_zone,
			f_number, focal_length, iso, exposure_time, latitude, longitude, city, state,
			country, description, fps, colorspace, profile_description, bits_per_sample
		FROM exif WHERE asset_id = ?`, assetID).Scan(
		&e.AssetID, &e.Make, &e.Model, &e.LensModel, &e.ExifImageWidth, &e.ExifImageHeight,
		&e.FileSizeInByte, &e.Orientation, &original, &modify, &e.TimeZone,
		&e.FNumber, &e.FocalLength, &e.ISO, &e.ExposureTime, &e.Latitude, &e.Longitude, &e.City, &e.State,
		&e.Country, &e.Description, &e.FPS, &e.Colorspace, &e.ProfileDescription, &e.BitsPerSample)
	recordQuery("get_exif", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.DateTimeOriginal = timeFromNull(original)
	e.ModifyDate = timeFromNull(modify)
	return &e, nil
}
