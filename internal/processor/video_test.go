package processor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/transcoder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hevcProbe() *transcoder.ProbeResult {
	return &transcoder.ProbeResult{
		Format:       transcoder.Format{FormatName: "matroska,webm", Duration: 12},
		VideoStreams: []transcoder.VideoStream{{Index: 0, Width: 3840, Height: 2160, CodecName: "hevc", FrameCount: 360}},
		AudioStreams: []transcoder.AudioStream{{Index: 1, CodecName: "opus", FrameCount: 500}},
	}
}

func TestVideoConversion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "video1", database.AssetTypeVideo)
	h.media.probe = hevcProbe()

	require.NoError(t, h.svc.handleVideoConversion(ctx, jobs.VideoConversion{ID: "video1"}))

	want := filepath.Join(h.root, "encoded-video", "user1", "video1.mp4")
	assert.Equal(t, want, h.asset(t, "video1").EncodedVideoPath)
	assert.FileExists(t, want)
	assertNoTempFiles(t, filepath.Dir(want))
	require.Len(t, h.media.transcodes, 1)
	assert.Contains(t, h.media.transcodes[0].OutputOptions, "h264")
}

func TestVideoConversionSkips(t *testing.T) {
	tests := []struct {
		name      string
		assetType database.AssetType
		probe     *transcoder.ProbeResult
	}{
		{
			name:      "not a video",
			assetType: database.AssetTypeImage,
			probe:     hevcProbe(),
		},
		{
			name:      "no video stream",
			assetType: database.AssetTypeVideo,
			probe:     &transcoder.ProbeResult{Format: transcoder.Format{FormatName: "mp4"}},
		},
		{
			name:      "no container",
			assetType: database.AssetTypeVideo,
			probe: &transcoder.ProbeResult{
				VideoStreams: []transcoder.VideoStream{{Width: 1280, Height: 720, CodecName: "hevc"}},
			},
		},
		{
			name:      "already playable",
			assetType: database.AssetTypeVideo,
			probe: &transcoder.ProbeResult{
				Format:       transcoder.Format{FormatName: "mov,mp4,m4a,3gp,3g2,mj2"},
				VideoStreams: []transcoder.VideoStream{{Width: 1280, Height: 720, CodecName: "h264"}},
				AudioStreams: []transcoder.AudioStream{{CodecName: "aac"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.addAsset(t, "asset1", tt.assetType)
			h.media.probe = tt.probe

			err := h.svc.handleVideoConversion(context.Background(), jobs.VideoConversion{ID: "asset1"})
			assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
			assert.Empty(t, h.media.transcodes)
			assert.Empty(t, h.asset(t, "asset1").EncodedVideoPath)
		})
	}
}

func TestVideoConversionFallsBackToSoftware(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "video1", database.AssetTypeVideo)
	h.media.probe = hevcProbe()
	h.media.transcodeErrs = []error{errors.New("nvenc: no capable devices found")}
	h.config.cfg.FFmpeg.Accel = transcoder.AccelNVENC

	require.NoError(t, h.svc.handleVideoConversion(ctx, jobs.VideoConversion{ID: "video1"}))

	require.Len(t, h.media.transcodes, 2)
	assert.Contains(t, h.media.transcodes[0].OutputOptions, "h264_nvenc")
	assert.NotContains(t, h.media.transcodes[1].OutputOptions, "h264_nvenc")
	assert.NotContains(t, h.media.transcodes[1].InputOptions, "cuda")
	assert.NotEmpty(t, h.asset(t, "video1").EncodedVideoPath)
}

func TestVideoConversionFailsAfterFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "video1", database.AssetTypeVideo)
	h.media.probe = hevcProbe()
	h.media.transcodeErrs = []error{errors.New("hw failed"), errors.New("sw failed")}
	h.config.cfg.FFmpeg.Accel = transcoder.AccelNVENC

	err := h.svc.handleVideoConversion(ctx, jobs.VideoConversion{ID: "video1"})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.Len(t, h.media.transcodes, 2)
	assert.Empty(t, h.asset(t, "video1").EncodedVideoPath)
}

func TestVideoConversionConfigErrorIsPermanent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "video1", database.AssetTypeVideo)
	h.media.probe = hevcProbe()
	// the device directory is empty
	h.config.cfg.FFmpeg.Accel = transcoder.AccelVAAPI

	err := h.svc.handleVideoConversion(ctx, jobs.VideoConversion{ID: "video1"})
	assert.True(t, jobs.IsPermanent(err), "got %v", err)
	assert.True(t, errors.Is(err, transcoder.ErrNoDevice), "got %v", err)
	assert.Empty(t, h.media.transcodes)
}

func TestQueueVideoConversion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "image1", database.AssetTypeImage)
	h.addAsset(t, "video1", database.AssetTypeVideo)
	h.addAsset(t, "video2", database.AssetTypeVideo)
	encoded := "/encoded-video/user1/video2.mp4"
	require.NoError(t, h.db.SaveAsset(ctx, "video2", database.AssetUpdate{EncodedVideoPath: &encoded}))

	require.NoError(t, h.svc.handleQueueVideoConversion(ctx, jobs.QueueAllVideoConversion{}))
	assert.Equal(t, []jobs.Job{jobs.VideoConversion{ID: "video1"}}, h.queue.take())

	require.NoError(t, h.svc.handleQueueVideoConversion(ctx, jobs.QueueAllVideoConversion{Force: true}))
	assert.ElementsMatch(t, []jobs.Job{
		jobs.VideoConversion{ID: "video1", Force: true},
		jobs.VideoConversion{ID: "video2", Force: true},
	}, h.queue.take())
}
