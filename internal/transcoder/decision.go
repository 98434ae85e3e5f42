package transcoder

import (
	"slices"
	"strconv"

	"media-pipeline/internal/logging"
)

// Stream is implemented by video and audio streams.
type Stream interface {
	VideoStream | AudioStream
}

func frameCount[T Stream](s T) int {
	switch v := any(s).(type) {
	case VideoStream:
		return v.FrameCount
	case AudioStream:
		return v.FrameCount
	}
	return 0
}

// MainStream returns the stream with the most frames, the first one on a
// tie, or nil for no streams.
func MainStream[T Stream](streams []T) *T {
	var best *T
	for i := range streams {
		if best == nil || frameCount(streams[i]) > frameCount(*best) {
			best = &streams[i]
		}
	}
	return best
}

var targetContainers = []string{"mov,mp4,m4a,3gp,3g2,mj2", "mp4", "mov"}

// IsTranscodeRequired applies the transcode policy to the main streams of
// a video. audio may be nil.
func IsTranscodeRequired(assetID string, video *VideoStream, audio *AudioStream, container string, cfg Config) bool {
	if video == nil || video.Height == 0 || video.Width == 0 {
		logging.Error("Skipping transcode of %s, height or width undefined for video stream", assetID)
		return false
	}

	isTargetVideoCodec := video.CodecName == string(cfg.TargetVideoCodec)
	isTargetContainer := slices.Contains(targetContainers, container)
	isTargetAudioCodec := audio == nil || audio.CodecName == string(cfg.TargetAudioCodec)

	if logging.IsDebugEnabled() {
		audioCodec := "None"
		if audio != nil {
			audioCodec = audio.CodecName
		}
		logging.Debug("%s: video codec %s, audio codec %s, container %s", assetID, video.CodecName, audioCodec, container)
	}

	allTargetsMatching := isTargetVideoCodec && isTargetAudioCodec && isTargetContainer
	scalingEnabled := cfg.TargetResolution != "original"
	targetRes, _ := strconv.Atoi(cfg.TargetResolution)
	isLargerThanTargetRes := scalingEnabled && min(video.Height, video.Width) > targetRes

	switch cfg.Transcode {
	case PolicyDisabled:
		return false
	case PolicyAll:
		return true
	case PolicyRequired:
		return !allTargetsMatching || video.IsHDR
	case PolicyOptimal:
		return !allTargetsMatching || isLargerThanTargetRes || video.IsHDR
	default:
		return false
	}
}
