package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/media"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/sysconfig"
	"media-pipeline/internal/transcoder"

	"github.com/google/uuid"
)

// FaceThumbnailSize is the edge length of person thumbnails.
const FaceThumbnailSize = 250

func (s *Service) handleQueueThumbnails(ctx context.Context, job jobs.QueueAllThumbnails) error {
	fetch := s.assetsWithout(database.WithoutThumbnail)
	if job.Force {
		fetch = s.allAssets("")
	}

	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		if a.ResizePath == "" || job.Force {
			return []jobs.Job{jobs.GenerateJPEGThumbnail{ID: a.ID, Force: job.Force}}
		}
		var out []jobs.Job
		if a.WebpPath == "" {
			out = append(out, jobs.GenerateWEBPThumbnail{ID: a.ID})
		}
		if len(a.Thumbhash) == 0 {
			out = append(out, jobs.GenerateThumbhash{ID: a.ID})
		}
		return out
	})
	if err != nil {
		return err
	}

	people := s.people.GetPersonsWithoutThumbnail
	if job.Force {
		people = s.people.GetPersons
	}
	var personJobs []jobs.Job
	err = s.forEachPerson(ctx, people, func(p *database.Person) error {
		if p.FaceAssetID == "" {
			face, err := s.people.GetRandomFace(ctx, p.ID)
			if errors.Is(err, database.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.people.UpdatePerson(ctx, p.ID, database.PersonUpdate{FaceAssetID: &face.AssetID}); err != nil {
				return err
			}
		}
		personJobs = append(personJobs, jobs.GeneratePersonThumbnail{ID: p.ID, Force: job.Force})
		return nil
	})
	if err != nil {
		return err
	}
	if len(personJobs) > 0 {
		if err := s.jobs.QueueAll(ctx, personJobs...); err != nil {
			return err
		}
	}

	logging.Info("Queued %d thumbnail jobs and %d person thumbnails", queued, len(personJobs))
	return nil
}

func (s *Service) handleGenerateJPEG(ctx context.Context, job jobs.GenerateJPEGThumbnail) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.ResizePath != "" && !job.Force {
		return jobs.Skip("asset %s already has a jpeg thumbnail", asset.ID)
	}
	path, err := s.generateThumbnail(ctx, asset, storage.FormatJPEG)
	if err != nil {
		return err
	}
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{ResizePath: &path})
}

func (s *Service) handleGenerateWEBP(ctx context.Context, job jobs.GenerateWEBPThumbnail) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.WebpPath != "" && !job.Force {
		return jobs.Skip("asset %s already has a webp thumbnail", asset.ID)
	}
	path, err := s.generateThumbnail(ctx, asset, storage.FormatWEBP)
	if err != nil {
		return err
	}
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{WebpPath: &path})
}

// generateThumbnail renders a thumbnail into a temporary file next to the
// canonical path and renames it into place.
func (s *Service) generateThumbnail(ctx context.Context, asset *database.Asset, format storage.ThumbnailFormat) (string, error) {
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return "", err
	}
	path, err := storage.EnsurePath(s.storage, s.resolver(cfg).ThumbnailPath(asset.OwnerID, asset.ID, format))
	if err != nil {
		return "", err
	}
	size := cfg.Thumbnail.JpegSize
	if format == storage.FormatWEBP {
		size = cfg.Thumbnail.WebpSize
	}

	tmp := tempOutput(path)
	switch asset.Type {
	case database.AssetTypeImage:
		opts := media.ResizeOptions{
			Size:       size,
			Format:     media.Format(format),
			Colorspace: s.thumbnailColorspace(ctx, asset, cfg),
			Quality:    cfg.Thumbnail.Quality,
		}
		err = s.media.Resize(ctx, asset.OriginalPath, tmp, opts)
	case database.AssetTypeVideo:
		err = s.videoThumbnail(ctx, asset, tmp, cfg, size)
	default:
		return "", jobs.Permanent(fmt.Errorf("unsupported asset type %q for asset %s", asset.Type, asset.ID))
	}
	if err != nil {
		s.unlinkQuietly(tmp)
		return "", err
	}
	if err := s.storage.MoveFile(tmp, path); err != nil {
		s.unlinkQuietly(tmp)
		return "", fmt.Errorf("move thumbnail into place: %w", err)
	}

	logging.Debug("Generated %s thumbnail for asset %s", format, asset.ID)
	return path, nil
}

func (s *Service) videoThumbnail(ctx context.Context, asset *database.Asset, output string, cfg sysconfig.SystemConfig, size int) error {
	probe, err := s.media.Probe(ctx, asset.OriginalPath)
	if err != nil {
		return err
	}
	video := transcoder.MainStream(probe.VideoStreams)
	if video == nil {
		return jobs.Skip("asset %s has no video streams", asset.ID)
	}
	audio := transcoder.MainStream(probe.AudioStreams)
	opts := transcoder.NewThumbnailEncoder(cfg.FFmpeg, size).Options(video, audio)
	return s.media.Transcode(ctx, asset.OriginalPath, output, opts)
}

// thumbnailColorspace uses sRGB for assets that are sRGB already and the
// configured colorspace for everything else.
func (s *Service) thumbnailColorspace(ctx context.Context, asset *database.Asset, cfg sysconfig.SystemConfig) media.Colorspace {
	exif, err := s.assets.GetExif(ctx, asset.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logging.Warn("Unable to read EXIF of asset %s: %v", asset.ID, err)
	}
	if isSRGB(exif) {
		return media.ColorspaceSRGB
	}
	return cfg.Thumbnail.Colorspace
}

func isSRGB(exif *database.ExifInfo) bool {
	if exif == nil {
		return true
	}
	colorspace := deref(exif.Colorspace)
	profile := deref(exif.ProfileDescription)
	if colorspace != "" || profile != "" {
		return strings.Contains(strings.ToLower(colorspace), "srgb") ||
			strings.Contains(strings.ToLower(profile), "srgb")
	}
	if exif.BitsPerSample != nil {
		return *exif.BitsPerSample == 8
	}
	return true
}

func (s *Service) handleGenerateThumbhash(ctx context.Context, job jobs.GenerateThumbhash) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.ResizePath == "" {
		return jobs.Skip("asset %s has no jpeg thumbnail", asset.ID)
	}
	if len(asset.Thumbhash) > 0 && !job.Force {
		return jobs.Skip("asset %s already has a thumbhash", asset.ID)
	}
	hash, err := s.media.GenerateThumbhash(ctx, asset.ResizePath)
	if err != nil {
		return err
	}
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{Thumbhash: hash})
}

func (s *Service) handleGeneratePersonThumbnail(ctx context.Context, job jobs.GeneratePersonThumbnail) error {
	person, err := s.getPerson(ctx, job.ID)
	if err != nil {
		return err
	}
	if person.FaceAssetID == "" {
		return jobs.Skip("person %s has no face asset", person.ID)
	}
	face, err := s.people.GetFace(ctx, person.FaceAssetID, person.ID)
	if errors.Is(err, database.ErrNotFound) {
		return jobs.Skip("face of person %s not found", person.ID)
	}
	if err != nil {
		return err
	}
	asset, err := s.getAsset(ctx, face.AssetID)
	if err != nil {
		return err
	}
	if asset.ResizePath == "" {
		return jobs.Skip("asset %s has no jpeg thumbnail", asset.ID)
	}

	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}
	path, err := storage.EnsurePath(s.storage, s.resolver(cfg).PersonThumbnailPath(person.OwnerID, person.ID))
	if err != nil {
		return err
	}

	crop := faceCrop(face)
	if crop.Width <= 0 {
		return jobs.Skip("face of person %s has an empty bounding box", person.ID)
	}
	opts := media.ResizeOptions{
		Size:       FaceThumbnailSize,
		Format:     media.FormatJPEG,
		Colorspace: cfg.Thumbnail.Colorspace,
		Quality:    cfg.Thumbnail.Quality,
	}
	tmp := tempOutput(path)
	if err := s.media.Crop(ctx, asset.ResizePath, tmp, crop, opts); err != nil {
		s.unlinkQuietly(tmp)
		return err
	}
	if err := s.storage.MoveFile(tmp, path); err != nil {
		s.unlinkQuietly(tmp)
		return err
	}
	return s.people.UpdatePerson(ctx, person.ID, database.PersonUpdate{ThumbnailPath: &path})
}

// faceCrop returns a square around the face, zoomed out by 10% and shrunk
// as needed to stay inside the image.
func faceCrop(face *database.AssetFace) media.CropOptions {
	halfWidth := float64(face.X2-face.X1) / 2
	halfHeight := float64(face.Y2-face.Y1) / 2
	middleX := int(math.Round(float64(face.X1) + halfWidth))
	middleY := int(math.Round(float64(face.Y1) + halfHeight))

	target := int(math.Floor(math.Max(halfWidth, halfHeight) * 1.1))
	half := min(
		middleX-max(0, middleX-target),
		middleY-max(0, middleY-target),
		min(face.ImageWidth-1, middleX+target)-middleX,
		min(face.ImageHeight-1, middleY+target)-middleY,
	)
	return media.CropOptions{
		Left:   middleX - half,
		Top:    middleY - half,
		Width:  half * 2,
		Height: half * 2,
	}
}

// tempOutput names a fresh in-progress file for path:
// "<name>.<random>.tmp<ext>" in the same directory, so jobs writing the same
// output at once never share it. The extension is kept since ffmpeg picks
// the muxer by it.
func tempOutput(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + uuid.NewString()[:8] + ".tmp" + ext
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
