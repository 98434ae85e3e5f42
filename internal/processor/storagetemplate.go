package processor

import (
	"bytes"
	"context"
	"fmt"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
)

const (
	kindOriginal pathKind = "original"
	kindSidecar  pathKind = "sidecar"
)

func (s *Service) handleQueueStorageTemplateMigration(ctx context.Context, _ jobs.QueueAllStorageTemplateMigration) error {
	queued, err := s.queueAssets(ctx, s.allAssets(""), func(a *database.Asset) []jobs.Job {
		if a.IsExternal {
			return nil
		}
		return []jobs.Job{jobs.StorageTemplateMigration{ID: a.ID}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued storage template migration of %d assets", queued)
	return nil
}

// handleStorageTemplateMigration moves an original to the path the current
// storage template renders for it. Originals already at that path, or at a
// numbered variant of it, stay where they are. A sidecar follows its
// original as "<original>.xmp".
func (s *Service) handleStorageTemplateMigration(ctx context.Context, job jobs.StorageTemplateMigration) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.IsExternal {
		return jobs.Skip("asset %s belongs to an external library", asset.ID)
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}

	target, err := s.resolver(cfg).OriginalPath(cfg.StorageTemplate.Template, asset.OwnerID, storage.TemplateInput{
		AssetID:          asset.ID,
		OriginalFileName: asset.OriginalFileName,
		CreatedAt:        asset.FileCreatedAt,
	})
	if err != nil {
		return jobs.Permanent(fmt.Errorf("render storage template for %s: %w", asset.ID, err))
	}
	if storage.IsVariant(asset.OriginalPath, target) {
		return nil
	}

	original, err := s.moveOriginal(asset, target)
	if err != nil || original == "" {
		return err
	}
	update := database.AssetUpdate{OriginalPath: &original}
	if asset.SidecarPath != "" {
		sidecar := original + ".xmp"
		moved, err := s.moveDerived(kindSidecar, asset.ID, asset.SidecarPath, sidecar)
		if err != nil {
			return err
		}
		if moved {
			update.SidecarPath = &sidecar
		}
	}
	if err := s.saveAsset(ctx, asset.ID, update); err != nil {
		return err
	}
	logging.Info("Migrated original of %s to %s", asset.ID, original)
	return nil
}

// moveOriginal moves the original to the first free variant of target and
// returns its new path, or "" when the original is missing. An original
// already sitting at a variant of target with the asset's checksum was moved
// by an earlier, interrupted run; only its path is returned.
func (s *Service) moveOriginal(asset *database.Asset, target string) (string, error) {
	if !s.storage.CheckFileExists(asset.OriginalPath) {
		for n := 0; n < maxNameAttempts; n++ {
			candidate := storage.Suffixed(target, n)
			if !s.storage.CheckFileExists(candidate) {
				break
			}
			sum, err := s.checksumFile(candidate)
			if err == nil && bytes.Equal(sum, asset.Checksum) {
				logging.Debug("%s file of %s already at %s", kindOriginal, asset.ID, candidate)
				return candidate, nil
			}
		}
		logging.Warn("Unable to migrate %s file of %s: %s does not exist", kindOriginal, asset.ID, asset.OriginalPath)
		return "", nil
	}

	placed, err := s.placeFile(asset.OriginalPath, target)
	if err != nil {
		return "", fmt.Errorf("move %s file of %s: %w", kindOriginal, asset.ID, err)
	}
	metrics.FilesMovedTotal.WithLabelValues(string(kindOriginal)).Inc()
	logging.Debug("Moved %s file of %s from %s to %s", kindOriginal, asset.ID, asset.OriginalPath, placed)
	return placed, nil
}
