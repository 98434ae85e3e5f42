package processor

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
)

// ErrUnsupportedMedia is returned for uploads that are neither images nor
// videos.
var ErrUnsupportedMedia = errors.New("unsupported media type")

// UploadRequest describes one uploaded file.
type UploadRequest struct {
	OwnerID        string
	DeviceAssetID  string
	DeviceID       string
	FileName       string
	FileCreatedAt  time.Time
	FileModifiedAt time.Time
	Body           io.Reader
}

// UploadResult identifies the asset holding the upload. Duplicate is set
// when an asset with the same content already existed.
type UploadResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// Delete statuses.
const (
	DeleteSuccess = "SUCCESS"
	DeleteFailed  = "FAILED"
)

// DeleteResult is the outcome for one id passed to Delete.
type DeleteResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Upload stores a new original. The content is streamed into a temporary
// file in the owner's upload folder while it is hashed, then moved to the
// first free variant of its storage template path. A file whose checksum
// the owner already has is discarded and the existing asset is returned.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := storage.ValidateOwnerID(req.OwnerID); err != nil {
		return nil, err
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return nil, err
	}
	resolver := s.resolver(cfg)

	id := s.newID()
	tmp := filepath.Join(resolver.FolderLocation(storage.FolderUpload, req.OwnerID), "."+id+".upload")
	checksum, err := s.receive(tmp, req.Body)
	if err != nil {
		s.unlinkQuietly(tmp)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	assetType, mimeType := s.classify(tmp, req.FileName)
	if assetType == database.AssetTypeOther {
		s.unlinkQuietly(tmp)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, req.FileName)
	}

	now := s.now()
	created := req.FileCreatedAt
	if created.IsZero() {
		created = now
	}
	modified := req.FileModifiedAt
	if modified.IsZero() {
		modified = created
	}
	original, err := resolver.OriginalPath(cfg.StorageTemplate.Template, req.OwnerID, storage.TemplateInput{
		AssetID:          id,
		OriginalFileName: req.FileName,
		CreatedAt:        created,
	})
	if err == nil {
		original, err = s.placeFile(tmp, original)
	}
	if err != nil {
		s.unlinkQuietly(tmp)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store original: %w", err)
	}

	asset := &database.Asset{
		ID:               id,
		OwnerID:          req.OwnerID,
		DeviceAssetID:    req.DeviceAssetID,
		DeviceID:         req.DeviceID,
		Type:             assetType,
		MimeType:         mimeType,
		OriginalPath:     original,
		OriginalFileName: req.FileName,
		Checksum:         checksum,
		FileCreatedAt:    created,
		FileModifiedAt:   modified,
	}
	err = s.assets.CreateAsset(ctx, asset)
	if errors.Is(err, database.ErrDuplicate) {
		return s.duplicateUpload(ctx, req.OwnerID, checksum, original)
	}
	if err != nil {
		s.unlinkQuietly(original)
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("create asset: %w", err)
	}

	if err := s.jobs.Queue(ctx, jobs.MetadataExtraction{ID: id, Source: jobs.SourceUpload}); err != nil {
		return nil, err
	}
	metrics.UploadsTotal.WithLabelValues("created").Inc()
	logging.Info("Uploaded asset %s (%s) to %s", id, assetType, original)
	return &UploadResult{ID: id}, nil
}

// placeFile moves source to the first free name among path, path+1,
// path+2 and so on, and returns it. Each name is claimed atomically, so
// files placed concurrently never share a path.
func (s *Service) placeFile(source, path string) (string, error) {
	for n := 0; n < maxNameAttempts; n++ {
		candidate := storage.Suffixed(path, n)
		err := s.storage.MoveFileNoReplace(source, candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", path, maxNameAttempts)
}

const maxNameAttempts = 10000

func (s *Service) duplicateUpload(ctx context.Context, ownerID string, checksum []byte, file string) (*UploadResult, error) {
	metrics.UploadsTotal.WithLabelValues("duplicate").Inc()
	if err := s.jobs.Queue(ctx, jobs.DeleteFiles{Files: []string{file}}); err != nil {
		s.unlinkQuietly(file)
	}
	existing, err := s.assets.GetAssetByChecksum(ctx, ownerID, checksum)
	if err != nil {
		return nil, fmt.Errorf("load duplicate asset: %w", err)
	}
	logging.Debug("Upload is a duplicate of asset %s", existing.ID)
	return &UploadResult{ID: existing.ID, Duplicate: true}, nil
}

// receive writes body to path and returns its SHA-1.
func (s *Service) receive(path string, body io.Reader) ([]byte, error) {
	f, err := s.storage.CreateFile(path)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	hash := sha1.New()
	if _, err := io.Copy(io.MultiWriter(f, hash), body); err != nil {
		f.Close()
		return nil, fmt.Errorf("receive upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

// checksumFile returns the SHA-1 of a file already on disk.
func (s *Service) checksumFile(path string) ([]byte, error) {
	f, err := s.storage.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hash := sha1.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

// classify sniffs the content first and falls back to the file name.
func (s *Service) classify(path, name string) (database.AssetType, string) {
	mimeType, err := s.storage.DetectType(path)
	if err != nil {
		logging.Warn("Unable to detect type of %s: %v", name, err)
	}
	fileType := mediatypes.FromMimeType(mimeType)
	if fileType != mediatypes.FileTypeImage && fileType != mediatypes.FileTypeVideo {
		fileType = mediatypes.GetFileType(name)
		mimeType = mediatypes.GetMimeType(name)
	}
	switch fileType {
	case mediatypes.FileTypeImage:
		return database.AssetTypeImage, mimeType
	case mediatypes.FileTypeVideo:
		return database.AssetTypeVideo, mimeType
	default:
		return database.AssetTypeOther, mimeType
	}
}

// Delete removes assets and queues removal of their files. Each id gets its
// own result; one failure does not stop the rest.
func (s *Service) Delete(ctx context.Context, ids []string) []DeleteResult {
	results := make([]DeleteResult, 0, len(ids))
	var files []string
	for _, id := range ids {
		asset, err := s.assets.DeleteAsset(ctx, id)
		if err != nil {
			msg := err.Error()
			if errors.Is(err, database.ErrNotFound) {
				msg = "not found"
			}
			results = append(results, DeleteResult{ID: id, Status: DeleteFailed, Error: msg})
			continue
		}
		results = append(results, DeleteResult{ID: id, Status: DeleteSuccess})
		files = append(files, assetFiles(asset)...)
	}

	if len(files) > 0 {
		if err := s.jobs.Queue(ctx, jobs.DeleteFiles{Files: files}); err != nil {
			logging.Error("Unable to queue removal of %d files: %v", len(files), err)
		}
	}
	return results
}

// assetFiles lists the files owned by an asset. Originals and sidecars of
// external libraries are left alone.
func assetFiles(a *database.Asset) []string {
	candidates := []string{a.ResizePath, a.WebpPath, a.EncodedVideoPath}
	if !a.IsExternal {
		candidates = append(candidates, a.OriginalPath, a.SidecarPath)
	}
	var files []string
	for _, f := range candidates {
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

func (s *Service) handleDeleteFiles(_ context.Context, job jobs.DeleteFiles) error {
	for _, file := range job.Files {
		if err := s.storage.Unlink(file); err != nil {
			logging.Warn("Unable to remove file %s: %v", file, err)
		}
	}
	return nil
}
