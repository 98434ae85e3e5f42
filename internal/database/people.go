package database

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"time"

	"media-pipeline/internal/paging"
)

const personColumns = `p.id, p.owner_id, p.name, p.thumbnail_path, p.face_asset_id, p.created_at`

func scanPerson(row rowScanner) (*Person, error) {
	var (
		p         Person
		faceAsset sql.NullString
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.ThumbnailPath, &faceAsset, &createdAt); err != nil {
		return nil, err
	}
	p.FaceAssetID = faceAsset.String
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

func (d *Database) queryPersons(ctx context.Context, operation, query string, args ...any) ([]*Person, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordQuery(operation, start, err)
		return nil, err
	}
	defer rows.Close()

	var persons []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			recordQuery(operation, start, err)
			return nil, err
		}
		persons = append(persons, p)
	}
	err = rows.Err()
	recordQuery(operation, start, err)
	return persons, err
}

// CreatePerson inserts a person.
func (d *Database) CreatePerson(ctx context.Context, p *Person) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := d.exec(ctx, "create_person", `
		INSERT INTO persons (id, owner_id, name, thumbnail_path, face_asset_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Name, p.ThumbnailPath, nullString(p.FaceAssetID), p.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// GetPerson returns a person or ErrNotFound.
func (d *Database) GetPerson(ctx context.Context, id string) (*Person, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	p, err := scanPerson(d.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM persons p WHERE p.id = ?`, id))
	recordQuery("get_person", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// UpdatePerson applies a field-level update.
func (d *Database) UpdatePerson(ctx context.Context, id string, u PersonUpdate) error {
	var (
		sets []string
		args []any
	)
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.ThumbnailPath != nil {
		sets = append(sets, "thumbnail_path = ?")
		args = append(args, *u.ThumbnailPath)
	}
	if u.FaceAssetID != nil {
		sets = append(sets, "face_asset_id = ?")
		args = append(args, nullString(*u.FaceAssetID))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := d.exec(ctx, "update_person", `UPDATE persons SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePerson removes a person and its faces.
func (d *Database) DeletePerson(ctx context.Context, id string) error {
	_, err := d.exec(ctx, "delete_person", `DELETE FROM persons WHERE id = ?`, id)
	return err
}

// GetPersons returns one page of all people.
func (d *Database) GetPersons(ctx context.Context, p paging.Pagination) (paging.Page[*Person], error) {
	persons, err := d.queryPersons(ctx, "get_persons",
		`SELECT `+personColumns+` FROM persons p ORDER BY p.created_at, p.id LIMIT ? OFFSET ?`, p.Take+1, p.Skip)
	if err != nil {
		return paging.Page[*Person]{}, err
	}
	return paging.FromSlice(persons, p), nil
}

// GetPersonsWithoutThumbnail returns one page of people with no thumbnail.
func (d *Database) GetPersonsWithoutThumbnail(ctx context.Context, p paging.Pagination) (paging.Page[*Person], error) {
	persons, err := d.queryPersons(ctx, "get_persons_without_thumbnail",
		`SELECT `+personColumns+` FROM persons p WHERE p.thumbnail_path = '' ORDER BY p.created_at, p.id LIMIT ? OFFSET ?`,
		p.Take+1, p.Skip)
	if err != nil {
		return paging.Page[*Person]{}, err
	}
	return paging.FromSlice(persons, p), nil
}

// GetPersonsWithoutFaces returns people no face points to anymore.
func (d *Database) GetPersonsWithoutFaces(ctx context.Context) ([]*Person, error) {
	return d.queryPersons(ctx, "get_persons_without_faces", `
		SELECT `+personColumns+` FROM persons p
		WHERE NOT EXISTS (SELECT 1 FROM asset_faces f WHERE f.person_id = p.id)`)
}

const faceColumns = `f.asset_id, f.person_id, f.embedding, f.image_width, f.image_height, f.x1, f.y1, f.x2, f.y2`

func scanFace(row rowScanner) (*AssetFace, error) {
	var (
		f         AssetFace
		embedding []byte
	)
	if err := row.Scan(&f.AssetID, &f.PersonID, &embedding, &f.ImageWidth, &f.ImageHeight,
		&f.X1, &f.Y1, &f.X2, &f.Y2); err != nil {
		return nil, err
	}
	f.Embedding = decodeVector(embedding)
	return &f, nil
}

// CreateFace links a detected face to a person.
func (d *Database) CreateFace(ctx context.Context, f *AssetFace) error {
	_, err := d.exec(ctx, "create_face", `
		INSERT INTO asset_faces (asset_id, person_id, embedding, image_width, image_height, x1, y1, x2, y2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id, person_id) DO UPDATE SET
			embedding = excluded.embedding,
			image_width = excluded.image_width,
			image_height = excluded.image_height,
			x1 = excluded.x1, y1 = excluded.y1, x2 = excluded.x2, y2 = excluded.y2`,
		f.AssetID, f.PersonID, encodeVector(f.Embedding), f.ImageWidth, f.ImageHeight, f.X1, f.Y1, f.X2, f.Y2)
	return err
}

// GetFacesByOwner returns every face of every person of an owner.
func (d *Database) GetFacesByOwner(ctx context.Context, ownerID string) ([]*AssetFace, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+faceColumns+` FROM asset_faces f
		JOIN persons p ON p.id = f.person_id
		WHERE p.owner_id = ?`, ownerID)
	if err != nil {
		recordQuery("get_faces_by_owner", start, err)
		return nil, err
	}
	defer rows.Close()

	var faces []*AssetFace
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			recordQuery("get_faces_by_owner", start, err)
			return nil, err
		}
		faces = append(faces, f)
	}
	err = rows.Err()
	recordQuery("get_faces_by_owner", start, err)
	return faces, err
}

// GetRandomFace returns any face of a person, or ErrNotFound.
func (d *Database) GetRandomFace(ctx context.Context, personID string) (*AssetFace, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	f, err := scanFace(d.db.QueryRowContext(ctx,
		`SELECT `+faceColumns+` FROM asset_faces f WHERE f.person_id = ? ORDER BY RANDOM() LIMIT 1`, personID))
	recordQuery("get_random_face", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// GetFace returns the face of a person in an asset, or ErrNotFound.
func (d *Database) GetFace(ctx context.Context, assetID, personID string) (*AssetFace, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	start := time.Now()
	f, err := scanFace(d.db.QueryRowContext(ctx,
		`SELECT `+faceColumns+` FROM asset_faces f WHERE f.asset_id = ? AND f.person_id = ?`, assetID, personID))
	recordQuery("get_face", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// DeleteFacesByAsset removes all faces detected in an asset.
func (d *Database) DeleteFacesByAsset(ctx context.Context, assetID string) error {
	_, err := d.exec(ctx, "delete_faces", `DELETE FROM asset_faces WHERE asset_id = ?`, assetID)
	return err
}

// UpsertSmartTags stores the object tags of an asset.
func (d *Database) UpsertSmartTags(ctx context.Context, assetID string, tags []string) error {
	_, err := d.exec(ctx, "upsert_smart_tags", `
		INSERT INTO smart_info (asset_id, tags) VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET tags = excluded.tags`,
		assetID, strings.Join(tags, "\n"))
	return err
}

// UpsertClipEmbedding stores the CLIP embedding of an asset.
func (d *Database) UpsertClipEmbedding(ctx context.Context, assetID string, embedding []float32) error {
	_, err := d.exec(ctx, "upsert_clip_embedding", `
		INSERT INTO smart_info (asset_id, clip_embedding) VALUES (?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET clip_embedding = excluded.clip_embedding`,
		assetID, encodeVector(embedding))
	return err
}

// GetSmartInfo returns the machine learning results of an asset.
func (d *Database) GetSmartInfo(ctx context.Context, assetID string) (*SmartInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var (
		tags      sql.NullString
		embedding []byte
	)
	start := time.Now()
	err := d.db.QueryRowContext(ctx, `SELECT tags, clip_embedding FROM smart_info WHERE asset_id = ?`, assetID).
		Scan(&tags, &embedding)
	recordQuery("get_smart_info", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info := &SmartInfo{AssetID: assetID, ClipEmbedding: decodeVector(embedding)}
	if tags.Valid && tags.String != "" {
		info.Tags = strings.Split(tags.String, "\n")
	}
	return info, nil
}

// encodeVector packs a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
