package processor

import (
	"context"
	"errors"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
)

// OnDone queues the follow-up jobs of a successful job. It is installed
// with jobs.Manager.OnComplete.
func (s *Service) OnDone(ctx context.Context, job jobs.Job) error {
	switch j := job.(type) {
	case jobs.MetadataExtraction:
		// the extracted capture date can change the template path
		if j.Source == jobs.SourceUpload {
			return s.jobs.Queue(ctx, jobs.StorageTemplateMigration{ID: j.ID, Source: jobs.SourceUpload})
		}

	case jobs.StorageTemplateMigration:
		if j.Source == jobs.SourceUpload {
			return s.jobs.Queue(ctx, jobs.GenerateJPEGThumbnail{ID: j.ID})
		}

	case jobs.GenerateJPEGThumbnail:
		batch := []jobs.Job{
			jobs.GenerateWEBPThumbnail{ID: j.ID, Force: j.Force},
			jobs.GenerateThumbhash{ID: j.ID, Force: j.Force},
			jobs.ClassifyImage{ID: j.ID},
			jobs.ClipEncode{ID: j.ID},
			jobs.RecognizeFaces{ID: j.ID},
		}
		asset, err := s.assets.GetAsset(ctx, j.ID)
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if asset.Type == database.AssetTypeVideo {
			batch = append(batch, jobs.VideoConversion{ID: j.ID})
		}
		return s.jobs.QueueAll(ctx, batch...)

	case jobs.SidecarDiscovery:
		return s.jobs.Queue(ctx, jobs.MetadataExtraction{ID: j.ID})
	case jobs.SidecarSync:
		return s.jobs.Queue(ctx, jobs.MetadataExtraction{ID: j.ID})
	}
	return nil
}
