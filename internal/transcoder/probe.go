package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"media-pipeline/internal/metrics"
)

// VideoStream describes one video stream of a container.
type VideoStream struct {
	Index      int     `json:"index"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	CodecName  string  `json:"codecName"`
	CodecType  string  `json:"codecType"`
	FrameCount int     `json:"frameCount"`
	Rotation   int     `json:"rotation"`
	IsHDR      bool    `json:"isHDR"`
	FrameRate  float64 `json:"frameRate"`
}

// AudioStream describes one audio stream of a container.
type AudioStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codecName"`
	CodecType  string `json:"codecType"`
	FrameCount int    `json:"frameCount"`
}

// Format describes the container.
type Format struct {
	FormatName     string            `json:"formatName"`
	FormatLongName string            `json:"formatLongName"`
	Duration       float64           `json:"duration"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// ProbeResult is the parsed output of ffprobe.
type ProbeResult struct {
	Format       Format        `json:"format"`
	VideoStreams []VideoStream `json:"videoStreams"`
	AudioStreams []AudioStream `json:"audioStreams"`
}

type ffprobeOutput struct {
	Format struct {
		FormatName     string            `json:"format_name"`
		FormatLongName string            `json:"format_long_name"`
		Duration       string            `json:"duration"`
		Tags           map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		Index         int               `json:"index"`
		CodecName     string            `json:"codec_name"`
		CodecType     string            `json:"codec_type"`
		Width         int               `json:"width"`
		Height        int               `json:"height"`
		NbFrames      string            `json:"nb_frames"`
		ColorTransfer string            `json:"color_transfer"`
		AvgFrameRate  string            `json:"avg_frame_rate"`
		RFrameRate    string            `json:"r_frame_rate"`
		Tags          map[string]string `json:"tags"`
		SideDataList  []struct {
			Rotation float64 `json:"rotation"`
		} `json:"side_data_list"`
	} `json:"streams"`
}

var hdrTransfers = map[string]bool{
	"smpte2084":    true,
	"arib-std-b67": true,
}

// Probe inspects a media file with ffprobe.
func (t *Transcoder) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	start := time.Now()
	defer func() {
		metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	}()

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := &ProbeResult{
		Format: Format{
			FormatName:     out.Format.FormatName,
			FormatLongName: out.Format.FormatLongName,
			Tags:           out.Format.Tags,
		},
	}
	result.Format.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)

	for _, s := range out.Streams {
		frames, _ := strconv.Atoi(s.NbFrames)
		switch s.CodecType {
		case "video":
			v := VideoStream{
				Index:      s.Index,
				Height:     s.Height,
				Width:      s.Width,
				CodecName:  s.CodecName,
				CodecType:  s.CodecType,
				FrameCount: frames,
				IsHDR:      hdrTransfers[s.ColorTransfer],
				FrameRate:  parseFrameRate(s.AvgFrameRate),
			}
			if v.FrameRate == 0 {
				v.FrameRate = parseFrameRate(s.RFrameRate)
			}
			if len(s.SideDataList) > 0 && s.SideDataList[0].Rotation != 0 {
				v.Rotation = int(math.Round(s.SideDataList[0].Rotation))
			} else if r, err := strconv.Atoi(s.Tags["rotate"]); err == nil {
				v.Rotation = r
			}
			result.VideoStreams = append(result.VideoStreams, v)
		case "audio":
			result.AudioStreams = append(result.AudioStreams, AudioStream{
				Index:      s.Index,
				CodecName:  s.CodecName,
				CodecType:  s.CodecType,
				FrameCount: frames,
			})
		}
	}
	return result, nil
}

// parseFrameRate parses ffprobe rates such as "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
