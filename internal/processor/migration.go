package processor

import (
	"context"
	"fmt"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
)

// pathKind labels a derived file for logs and metrics.
type pathKind string

const (
	kindResize       pathKind = "resize"
	kindWebp         pathKind = "webp"
	kindEncodedVideo pathKind = "encoded_video"
	kindFace         pathKind = "face"
)

func (s *Service) handleQueueMigration(ctx context.Context, _ jobs.QueueAllMigration) error {
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}

	// This job is the only one running in the migration queue, so no
	// move can be racing the cleanup.
	counts, err := s.jobs.GetJobCounts(ctx, jobs.QueueMigration)
	if err != nil {
		return err
	}
	if counts.Counts.Active == 1 && counts.Counts.Waiting == 0 {
		resolver := s.resolver(cfg)
		for _, folder := range []storage.Folder{storage.FolderThumbnails, storage.FolderEncodedVideo} {
			if err := resolver.RemoveEmptyDirs(s.storage, folder); err != nil {
				logging.Warn("Unable to remove empty directories in %s: %v", folder, err)
			}
		}
	}

	queued, err := s.queueAssets(ctx, s.allAssets(""), func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.MigrateAsset{ID: a.ID}}
	})
	if err != nil {
		return err
	}

	var people []jobs.Job
	err = s.forEachPerson(ctx, s.people.GetPersons, func(p *database.Person) error {
		people = append(people, jobs.MigratePerson{ID: p.ID})
		return nil
	})
	if err != nil {
		return err
	}
	if len(people) > 0 {
		if err := s.jobs.QueueAll(ctx, people...); err != nil {
			return err
		}
	}

	logging.Info("Queued migration of %d assets and %d people", queued, len(people))
	return nil
}

func (s *Service) handleMigrateAsset(ctx context.Context, job jobs.MigrateAsset) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}
	resolver := s.resolver(cfg)

	moves := []struct {
		kind    pathKind
		current string
		target  string
		update  func(string) database.AssetUpdate
	}{
		{kindResize, asset.ResizePath, resolver.ThumbnailPath(asset.OwnerID, asset.ID, storage.FormatJPEG),
			func(p string) database.AssetUpdate { return database.AssetUpdate{ResizePath: &p} }},
		{kindWebp, asset.WebpPath, resolver.ThumbnailPath(asset.OwnerID, asset.ID, storage.FormatWEBP),
			func(p string) database.AssetUpdate { return database.AssetUpdate{WebpPath: &p} }},
		{kindEncodedVideo, asset.EncodedVideoPath, resolver.EncodedVideoPath(asset.OwnerID, asset.ID),
			func(p string) database.AssetUpdate { return database.AssetUpdate{EncodedVideoPath: &p} }},
	}
	for _, m := range moves {
		moved, err := s.moveDerived(m.kind, asset.ID, m.current, m.target)
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		if err := s.saveAsset(ctx, asset.ID, m.update(m.target)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleMigratePerson(ctx context.Context, job jobs.MigratePerson) error {
	person, err := s.getPerson(ctx, job.ID)
	if err != nil {
		return err
	}
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}
	target := s.resolver(cfg).PersonThumbnailPath(person.OwnerID, person.ID)
	moved, err := s.moveDerived(kindFace, person.ID, person.ThumbnailPath, target)
	if err != nil || !moved {
		return err
	}
	return s.people.UpdatePerson(ctx, person.ID, database.PersonUpdate{ThumbnailPath: &target})
}

// moveDerived brings a derived file to its canonical location. It reports
// whether the stored path must change. A file found only at the target was
// moved by an earlier, interrupted run and is not moved again.
func (s *Service) moveDerived(kind pathKind, id, current, target string) (bool, error) {
	if current == "" || current == target {
		return false, nil
	}

	atCurrent := s.storage.CheckFileExists(current)
	atTarget := s.storage.CheckFileExists(target)
	switch {
	case !atCurrent && atTarget:
		logging.Debug("%s file of %s already at %s", kind, id, target)
		return true, nil
	case !atCurrent:
		logging.Warn("Unable to migrate %s file of %s: %s does not exist", kind, id, current)
		return false, nil
	}

	if _, err := storage.EnsurePath(s.storage, target); err != nil {
		return false, err
	}
	if err := s.storage.MoveFile(current, target); err != nil {
		return false, fmt.Errorf("move %s file of %s: %w", kind, id, err)
	}
	metrics.FilesMovedTotal.WithLabelValues(string(kind)).Inc()
	logging.Debug("Moved %s file of %s from %s to %s", kind, id, current, target)
	return true, nil
}
