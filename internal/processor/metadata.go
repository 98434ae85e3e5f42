package processor

import (
	"context"
	"path/filepath"
	"strings"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metadata"
)

func (s *Service) handleQueueMetadataExtraction(ctx context.Context, job jobs.QueueAllMetadataExtraction) error {
	fetch := s.assetsWithout(database.WithoutExif)
	if job.Force {
		fetch = s.allAssets("")
	}
	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.MetadataExtraction{ID: a.ID}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued %d metadata extractions", queued)
	return nil
}

// handleMetadataExtraction never fails on unreadable metadata: whatever
// cannot be parsed is stored as unknown.
func (s *Service) handleMetadataExtraction(ctx context.Context, job jobs.MetadataExtraction) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}

	info := s.readMetadata(ctx, asset)
	info.AssetID = asset.ID
	if stat, err := s.storage.Stat(asset.OriginalPath); err == nil {
		info.FileSizeInByte = ptr(stat.Size())
	}

	if asset.SidecarPath != "" {
		sidecar, err := metadata.ReadSidecar(asset.SidecarPath)
		if err != nil {
			logging.Warn("Unable to read sidecar of asset %s: %v", asset.ID, err)
		}
		sidecar.Apply(info)
	}

	if err := s.reverseGeocode(ctx, info); err != nil {
		return err
	}

	if err := s.assets.UpsertExif(ctx, info); err != nil {
		return err
	}
	if info.DateTimeOriginal != nil {
		err := s.saveAsset(ctx, asset.ID, database.AssetUpdate{FileCreatedAt: info.DateTimeOriginal})
		if err != nil {
			return err
		}
	}
	return s.assets.MarkMetadataExtracted(ctx, asset.ID, s.now())
}

func (s *Service) readMetadata(ctx context.Context, asset *database.Asset) *database.ExifInfo {
	switch asset.Type {
	case database.AssetTypeImage:
		info, err := metadata.ReadImage(asset.OriginalPath)
		if err != nil {
			logging.Warn("Unable to read EXIF of asset %s: %v", asset.ID, err)
			return &database.ExifInfo{}
		}
		return info
	case database.AssetTypeVideo:
		probe, err := s.media.Probe(ctx, asset.OriginalPath)
		if err != nil {
			logging.Warn("Unable to probe asset %s: %v", asset.ID, err)
			return &database.ExifInfo{}
		}
		return metadata.FromProbe(probe)
	default:
		return &database.ExifInfo{}
	}
}

func (s *Service) reverseGeocode(ctx context.Context, info *database.ExifInfo) error {
	if s.geocoder == nil || info.Latitude == nil || info.Longitude == nil {
		return nil
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.ReverseGeocoding.Enabled {
		return nil
	}

	place, err := s.geocoder.ReverseGeocode(ctx, *info.Latitude, *info.Longitude)
	if err != nil {
		logging.Warn("Reverse geocoding failed for asset %s: %v", info.AssetID, err)
		return nil
	}
	if place == nil {
		return nil
	}
	info.City = nonEmpty(place.City)
	info.State = nonEmpty(place.State)
	info.Country = nonEmpty(place.Country)
	return nil
}

func (s *Service) handleQueueSidecar(ctx context.Context, job jobs.QueueAllSidecar) error {
	var (
		queued int
		err    error
	)
	if job.Force {
		queued, err = s.queueAssets(ctx, s.allAssets(""), func(a *database.Asset) []jobs.Job {
			return []jobs.Job{jobs.SidecarSync{ID: a.ID}}
		})
	} else {
		queued, err = s.queueAssets(ctx, s.assetsWithout(database.WithoutSidecar), func(a *database.Asset) []jobs.Job {
			return []jobs.Job{jobs.SidecarDiscovery{ID: a.ID}}
		})
	}
	if err != nil {
		return err
	}
	logging.Info("Queued %d sidecar jobs", queued)
	return nil
}

func (s *Service) handleSidecarDiscovery(ctx context.Context, job jobs.SidecarDiscovery) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.SidecarPath != "" {
		return jobs.Skip("asset %s already has a sidecar", asset.ID)
	}
	sidecar := s.findSidecar(asset.OriginalPath)
	if sidecar == "" {
		return jobs.Skip("no sidecar found for asset %s", asset.ID)
	}
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{SidecarPath: &sidecar})
}

// handleSidecarSync records the current sidecar, clearing a removed one.
func (s *Service) handleSidecarSync(ctx context.Context, job jobs.SidecarSync) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	sidecar := s.findSidecar(asset.OriginalPath)
	if sidecar == "" && asset.SidecarPath == "" {
		return jobs.Skip("no sidecar found for asset %s", asset.ID)
	}
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{SidecarPath: &sidecar})
}

// findSidecar looks for "<original>.xmp", then "<original without ext>.xmp".
func (s *Service) findSidecar(original string) string {
	candidates := []string{
		original + ".xmp",
		strings.TrimSuffix(original, filepath.Ext(original)) + ".xmp",
	}
	for _, c := range candidates {
		if s.storage.CheckFileExists(c) {
			return c
		}
	}
	return ""
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
