package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/paging"
)

// handleLibraryRefresh walks an external library and queues an import for
// every media file that is new or changed since its last import.
func (s *Service) handleLibraryRefresh(ctx context.Context, job jobs.LibraryRefresh) error {
	start := time.Now()
	var (
		batch   []jobs.Job
		queued  int
		scanned int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.jobs.QueueAll(ctx, batch...); err != nil {
			return err
		}
		queued += len(batch)
		batch = batch[:0]
		return nil
	}

	err := s.storage.Walk(ctx, job.Path, func(path string, info fs.FileInfo) error {
		if !mediatypes.IsMediaFile(path) {
			return nil
		}
		scanned++
		if !job.Force {
			unchanged, err := s.isUnchanged(ctx, job.OwnerID, path, info)
			if err != nil {
				return err
			}
			if unchanged {
				return nil
			}
		}
		batch = append(batch, jobs.LibraryRefreshAsset{OwnerID: job.OwnerID, Path: path})
		if len(batch) >= paging.JobsAssetPaginationSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return fmt.Errorf("scan library %s: %w", job.Path, err)
	}

	logging.Info("Scanned library %s in %v: %d media files, %d queued for import",
		job.Path, time.Since(start).Round(time.Millisecond), scanned, queued)
	return nil
}

func (s *Service) isUnchanged(ctx context.Context, ownerID, path string, info fs.FileInfo) (bool, error) {
	existing, err := s.assets.GetAssetByOriginalPath(ctx, ownerID, path)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return existing.FileModifiedAt.Unix() == info.ModTime().Unix(), nil
}

// handleLibraryRefreshAsset imports one library file in place. Known files
// whose modification time changed get their metadata and thumbnails
// regenerated.
func (s *Service) handleLibraryRefreshAsset(ctx context.Context, job jobs.LibraryRefreshAsset) error {
	info, err := s.storage.Stat(job.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return jobs.Skip("library file %s no longer exists", job.Path)
	}
	if err != nil {
		return err
	}
	modified := info.ModTime().UTC().Truncate(time.Second)

	existing, err := s.assets.GetAssetByOriginalPath(ctx, job.OwnerID, job.Path)
	switch {
	case err == nil:
		return s.refreshLibraryAsset(ctx, existing, modified)
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	assetType, mimeType := s.classify(job.Path, info.Name())
	if assetType == database.AssetTypeOther {
		return jobs.Skip("library file %s is not a supported media file", job.Path)
	}
	checksum, err := s.checksumFile(job.Path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", job.Path, err)
	}

	asset := &database.Asset{
		ID:               s.newID(),
		OwnerID:          job.OwnerID,
		DeviceAssetID:    info.Name(),
		DeviceID:         "Library Import",
		Type:             assetType,
		MimeType:         mimeType,
		OriginalPath:     job.Path,
		OriginalFileName: info.Name(),
		Checksum:         checksum,
		IsExternal:       true,
		FileCreatedAt:    modified,
		FileModifiedAt:   modified,
	}
	err = s.assets.CreateAsset(ctx, asset)
	if errors.Is(err, database.ErrDuplicate) {
		return jobs.Skip("library file %s duplicates an existing asset", job.Path)
	}
	if err != nil {
		return err
	}

	logging.Debug("Imported library file %s as asset %s", job.Path, asset.ID)
	return s.jobs.Queue(ctx, jobs.MetadataExtraction{ID: asset.ID, Source: jobs.SourceUpload})
}

func (s *Service) refreshLibraryAsset(ctx context.Context, asset *database.Asset, modified time.Time) error {
	if asset.FileModifiedAt.Unix() == modified.Unix() {
		return jobs.Skip("library file %s is unchanged", asset.OriginalPath)
	}
	checksum, err := s.checksumFile(asset.OriginalPath)
	if err != nil {
		return fmt.Errorf("hash %s: %w", asset.OriginalPath, err)
	}
	err = s.saveAsset(ctx, asset.ID, database.AssetUpdate{FileModifiedAt: &modified, Checksum: checksum})
	if errors.Is(err, database.ErrDuplicate) {
		return jobs.Skip("library file %s now duplicates another asset", asset.OriginalPath)
	}
	if err != nil {
		return err
	}
	logging.Debug("Library file %s changed, refreshing asset %s", asset.OriginalPath, asset.ID)
	return s.jobs.QueueAll(ctx,
		jobs.MetadataExtraction{ID: asset.ID},
		jobs.GenerateJPEGThumbnail{ID: asset.ID, Force: true},
	)
}
