package processor

import (
	"context"
	"fmt"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/transcoder"
)

func (s *Service) handleQueueVideoConversion(ctx context.Context, job jobs.QueueAllVideoConversion) error {
	fetch := s.assetsWithout(database.WithoutEncodedVideo)
	if job.Force {
		fetch = s.allAssets(database.AssetTypeVideo)
	}
	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.VideoConversion{ID: a.ID, Force: job.Force}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued %d video conversions", queued)
	return nil
}

func (s *Service) handleVideoConversion(ctx context.Context, job jobs.VideoConversion) error {
	asset, err := s.getAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	if asset.Type != database.AssetTypeVideo {
		return jobs.Skip("asset %s is not a video", asset.ID)
	}

	cfg, err := s.getConfig(ctx)
	if err != nil {
		return err
	}
	output, err := storage.EnsurePath(s.storage, s.resolver(cfg).EncodedVideoPath(asset.OwnerID, asset.ID))
	if err != nil {
		return err
	}

	probe, err := s.media.Probe(ctx, asset.OriginalPath)
	if err != nil {
		return err
	}
	video := transcoder.MainStream(probe.VideoStreams)
	audio := transcoder.MainStream(probe.AudioStreams)
	container := probe.Format.FormatName
	if video == nil || container == "" {
		return jobs.Skip("asset %s has no video stream or container", asset.ID)
	}
	if !transcoder.IsTranscodeRequired(asset.ID, video, audio, container, cfg.FFmpeg) {
		return jobs.Skip("asset %s does not need transcoding", asset.ID)
	}

	ffmpeg := cfg.FFmpeg
	tmp := tempOutput(output)
	err = s.transcode(ctx, asset, tmp, ffmpeg, video, audio)
	if err != nil && ffmpeg.Accel != transcoder.AccelDisabled && !jobs.IsPermanent(err) {
		logging.Error("Error occurred during transcoding of asset %s, retrying with %s acceleration disabled: %v", asset.ID, ffmpeg.Accel, err)
		metrics.TranscoderHardwareFallbacks.WithLabelValues(string(ffmpeg.Accel)).Inc()
		ffmpeg.Accel = transcoder.AccelDisabled
		err = s.transcode(ctx, asset, tmp, ffmpeg, video, audio)
	}
	if err != nil {
		s.unlinkQuietly(tmp)
		return err
	}

	if err := s.storage.MoveFile(tmp, output); err != nil {
		s.unlinkQuietly(tmp)
		return fmt.Errorf("move encoded video into place: %w", err)
	}
	logging.Info("Encoded video %s to %s", asset.ID, output)
	return s.saveAsset(ctx, asset.ID, database.AssetUpdate{EncodedVideoPath: &output})
}

func (s *Service) transcode(ctx context.Context, asset *database.Asset, output string, cfg transcoder.Config, video *transcoder.VideoStream, audio *transcoder.AudioStream) error {
	var devices []string
	if cfg.Accel == transcoder.AccelQSV || cfg.Accel == transcoder.AccelVAAPI {
		var err error
		if devices, err = s.storage.Readdir(s.deviceDir); err != nil {
			logging.Warn("Unable to list %s: %v", s.deviceDir, err)
		}
	}
	encoder, err := transcoder.NewEncoder(cfg, s.deviceDir, devices)
	if err != nil {
		return jobs.Permanent(fmt.Errorf("configure transcoding of asset %s: %w", asset.ID, err))
	}
	return s.media.Transcode(ctx, asset.OriginalPath, output, encoder.Options(video, audio))
}
