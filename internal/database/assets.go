package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-pipeline/internal/paging"
)

const assetColumns = `a.id, a.owner_id, a.device_asset_id, a.device_id, a.type, a.mime_type,
	a.original_path, a.original_file_name, a.checksum, a.is_external,
	a.resize_path, a.webp_path, a.thumbhash, a.encoded_video_path, a.sidecar_path,
	a.file_created_at, a.file_modified_at, a.created_at, a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a                                               Asset
		resize, webp, encoded, sidecar                  sql.NullString
		fileCreated, fileModified, createdAt, updatedAt int64
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.DeviceAssetID, &a.DeviceID, &a.Type, &a.MimeType,
		&a.OriginalPath, &a.OriginalFileName, &a.Checksum, &a.IsExternal,
		&resize, &webp, &a.Thumbhash, &encoded, &sidecar,
		&fileCreated, &fileModified, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.ResizePath = resize.String
	a.WebpPath = webp.String
	a.EncodedVideoPath = encoded.String
	a.SidecarPath = sidecar.String
	a.FileCreatedAt = time.Unix(fileCreated, 0).UTC()
	a.FileModifiedAt = time.Unix(fileModified, 0).UTC()
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &a, nil
}

func (d *Database) queryAssets(ctx context.Context, operation, query string, args ...any) ([]*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordQuery(operation, start, err)
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			recordQuery(operation, start, err)
			return nil, err
		}
		assets = append(assets, a)
	}
	err = rows.Err()
	recordQuery(operation, start, err)
	return assets, err
}

func (d *Database) queryAsset(ctx context.Context, operation, query string, args ...any) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	a, err := scanAsset(d.db.QueryRowContext(ctx, query, args...))
	recordQuery(operation, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetAsset returns one asset or ErrNotFound.
func (d *Database) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return d.queryAsset(ctx, "get_asset", `SELECT `+assetColumns+` FROM assets a WHERE a.id = ?`, id)
}

// GetAssetsByIDs returns the assets that exist among ids, in no particular
// order.
func (d *Database) GetAssetsByIDs(ctx context.Context, ids []string) ([]*Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return d.queryAssets(ctx, "get_assets_by_ids",
		`SELECT `+assetColumns+` FROM assets a WHERE a.id IN (`+placeholders+`)`, args...)
}

// GetAssetByChecksum looks up an owner's asset by content hash.
func (d *Database) GetAssetByChecksum(ctx context.Context, ownerID string, checksum []byte) (*Asset, error) {
	return d.queryAsset(ctx, "get_asset_by_checksum",
		`SELECT `+assetColumns+` FROM assets a WHERE a.owner_id = ? AND a.checksum = ?`, ownerID, checksum)
}

// GetAssetByOriginalPath looks up an owner's asset by its original file.
func (d *Database) GetAssetByOriginalPath(ctx context.Context, ownerID, path string) (*Asset, error) {
	return d.queryAsset(ctx, "get_asset_by_path",
		`SELECT `+assetColumns+` FROM assets a WHERE a.owner_id = ? AND a.original_path = ?`, ownerID, path)
}

// GetAssets returns one page of assets ordered by creation, optionally
// restricted to one type ("" for all).
func (d *Database) GetAssets(ctx context.Context, p paging.Pagination, assetType AssetType) (paging.Page[*Asset], error) {
	var (
		assets []*Asset
		err    error
	)
	if assetType == "" {
		assets, err = d.queryAssets(ctx, "get_assets",
			`SELECT `+assetColumns+` FROM assets a ORDER BY a.created_at, a.id LIMIT ? OFFSET ?`,
			p.Take+1, p.Skip)
	} else {
		assets, err = d.queryAssets(ctx, "get_assets",
			`SELECT `+assetColumns+` FROM assets a WHERE a.type = ? ORDER BY a.created_at, a.id LIMIT ? OFFSET ?`,
			assetType, p.Take+1, p.Skip)
	}
	if err != nil {
		return paging.Page[*Asset]{}, err
	}
	return paging.FromSlice(assets, p), nil
}

var withoutFilters = map[WithoutProperty]string{
	WithoutThumbnail:    `a.resize_path IS NULL OR a.webp_path IS NULL OR a.thumbhash IS NULL`,
	WithoutEncodedVideo: `a.type = 'VIDEO' AND a.encoded_video_path IS NULL`,
	WithoutExif:         `js.metadata_extracted_at IS NULL`,
	WithoutObjectTags:   `a.resize_path IS NOT NULL AND (si.tags IS NULL)`,
	WithoutClipEncoding: `a.resize_path IS NOT NULL AND (si.clip_embedding IS NULL)`,
	WithoutFaces:        `a.resize_path IS NOT NULL AND js.faces_recognized_at IS NULL`,
	WithoutSidecar:      `a.sidecar_path IS NULL`,
}

// GetAssetsWithout returns one page of assets missing the given artifact.
func (d *Database) GetAssetsWithout(ctx context.Context, p paging.Pagination, property WithoutProperty) (paging.Page[*Asset], error) {
	filter, ok := withoutFilters[property]
	if !ok {
		return paging.Page[*Asset]{}, fmt.Errorf("invalid getWithout property: %s", property)
	}
	assets, err := d.queryAssets(ctx, "get_assets_without",
		`SELECT `+assetColumns+` FROM assets a
		LEFT JOIN asset_job_status js ON js.asset_id = a.id
		LEFT JOIN smart_info si ON si.asset_id = a.id
		WHERE `+filter+`
		ORDER BY a.created_at, a.id LIMIT ? OFFSET ?`, p.Take+1, p.Skip)
	if err != nil {
		return paging.Page[*Asset]{}, err
	}
	return paging.FromSlice(assets, p), nil
}

// CreateAsset inserts a new asset. A second asset with the same owner and
// checksum fails with ErrDuplicate.
func (d *Database) CreateAsset(ctx context.Context, a *Asset) error {
	now := time.Now().UTC().Truncate(time.Second)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := d.exec(ctx, "create_asset", `
		INSERT INTO assets (id, owner_id, device_asset_id, device_id, type, mime_type,
			original_path, original_file_name, checksum, is_external,
			resize_path, webp_path, thumbhash, encoded_video_path, sidecar_path,
			file_created_at, file_modified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OwnerID, a.DeviceAssetID, a.DeviceID, a.Type, a.MimeType,
		a.OriginalPath, a.OriginalFileName, a.Checksum, a.IsExternal,
		nullString(a.ResizePath), nullString(a.WebpPath), a.Thumbhash,
		nullString(a.EncodedVideoPath), nullString(a.SidecarPath),
		a.FileCreatedAt.Unix(), a.FileModifiedAt.Unix(), a.CreatedAt.Unix(), a.UpdatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SaveAsset applies a field-level update. Only the named columns are
// written, so processors owning different fields never overwrite each other.
func (d *Database) SaveAsset(ctx context.Context, id string, u AssetUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.OriginalPath != nil {
		set("original_path", *u.OriginalPath)
	}
	if u.ResizePath != nil {
		set("resize_path", nullString(*u.ResizePath))
	}
	if u.WebpPath != nil {
		set("webp_path", nullString(*u.WebpPath))
	}
	if u.Thumbhash != nil {
		set("thumbhash", u.Thumbhash)
	}
	if u.EncodedVideoPath != nil {
		set("encoded_video_path", nullString(*u.EncodedVideoPath))
	}
	if u.SidecarPath != nil {
		set("sidecar_path", nullString(*u.SidecarPath))
	}
	if u.FileCreatedAt != nil {
		set("file_created_at", u.FileCreatedAt.Unix())
	}
	if u.FileModifiedAt != nil {
		set("file_modified_at", u.FileModifiedAt.Unix())
	}
	if u.Checksum != nil {
		set("checksum", u.Checksum)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", time.Now().Unix())
	args = append(args, id)

	res, err := d.exec(ctx, "save_asset", `UPDATE assets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAsset removes an asset and its dependent rows, returning what was
// deleted so the caller can schedule file removal.
func (d *Database) DeleteAsset(ctx context.Context, id string) (*Asset, error) {
	a, err := d.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := d.exec(ctx, "delete_asset", `DELETE FROM assets WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return a, nil
}

// CountAssetsByType returns the number of assets per type.
func (d *Database) CountAssetsByType(ctx context.Context) (map[AssetType]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM assets GROUP BY type`)
	if err != nil {
		recordQuery("count_assets", start, err)
		return nil, err
	}
	defer rows.Close()

	counts := make(map[AssetType]int64)
	for rows.Next() {
		var (
			t AssetType
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			recordQuery("count_assets", start, err)
			return nil, err
		}
		counts[t] = n
	}
	err = rows.Err()
	recordQuery("count_assets", start, err)
	return counts, err
}

// MarkMetadataExtracted records that metadata extraction finished.
func (d *Database) MarkMetadataExtracted(ctx context.Context, id string, at time.Time) error {
	_, err := d.exec(ctx, "mark_metadata_extracted", `
		INSERT INTO asset_job_status (asset_id, metadata_extracted_at) VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET metadata_extracted_at = excluded.metadata_extracted_at
	`, id, at.Unix())
	return err
}

// MarkFacesRecognized records that face recognition finished.
func (d *Database) MarkFacesRecognized(ctx context.Context, id string, at time.Time) error {
	_, err := d.exec(ctx, "mark_faces_recognized", `
		INSERT INTO asset_job_status (asset_id, faces_recognized_at) VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET faces_recognized_at = excluded.faces_recognized_at
	`, id, at.Unix())
	return err
}
