package transcoder

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	trans := New("", "")

	if trans.ffmpegPath != "ffmpeg" || trans.ffprobePath != "ffprobe" {
		t.Errorf("Expected default tool names, got %s and %s", trans.ffmpegPath, trans.ffprobePath)
	}
	if trans.processes == nil {
		t.Error("Expected processes map to be initialized")
	}
	if trans.Running() != 0 {
		t.Errorf("Expected no running processes, got %d", trans.Running())
	}

	// must not panic with nothing running
	trans.Cleanup()
}

func TestProbeWithMissingBinary(t *testing.T) {
	trans := New("/nonexistent/ffmpeg", "/nonexistent/ffprobe")

	if trans.IsAvailable() {
		t.Error("IsAvailable() should be false for missing binaries")
	}
	if _, err := trans.Probe(context.Background(), "/tmp/video.mp4"); err == nil {
		t.Error("Expected error from Probe with missing ffprobe")
	}
	if err := trans.Transcode(context.Background(), "in.mp4", "out.mp4", Options{}); err == nil {
		t.Error("Expected error from Transcode with missing ffmpeg")
	}
}

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "hevc", "codec_type": "video", "width": 3840, "height": 2160,
     "nb_frames": "900", "color_transfer": "arib-std-b67", "avg_frame_rate": "30000/1001",
     "side_data_list": [{"rotation": -90}]},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "nb_frames": "1400"},
    {"index": 2, "codec_name": "mjpeg", "codec_type": "video", "width": 320, "height": 240,
     "nb_frames": "1", "tags": {"rotate": "90"}}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "format_long_name": "QuickTime / MOV",
    "duration": "30.030000", "tags": {"creation_time": "2023-07-04T10:30:00.000000Z"}}
}`

func TestParseProbe(t *testing.T) {
	result, err := parseProbe([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}

	if result.Format.FormatName != "mov,mp4,m4a,3gp,3g2,mj2" {
		t.Errorf("FormatName = %s", result.Format.FormatName)
	}
	if result.Format.Duration != 30.03 {
		t.Errorf("Duration = %f, want 30.03", result.Format.Duration)
	}
	if result.Format.Tags["creation_time"] == "" {
		t.Error("Expected creation_time tag")
	}
	if len(result.VideoStreams) != 2 || len(result.AudioStreams) != 1 {
		t.Fatalf("got %d video and %d audio streams", len(result.VideoStreams), len(result.AudioStreams))
	}

	v := result.VideoStreams[0]
	if !v.IsHDR || v.FrameCount != 900 || v.Rotation != -90 {
		t.Errorf("main video stream = %+v", v)
	}
	if v.FrameRate < 29.96 || v.FrameRate > 29.98 {
		t.Errorf("FrameRate = %f, want ~29.97", v.FrameRate)
	}
	if result.VideoStreams[1].Rotation != 90 {
		t.Errorf("rotate tag not parsed: %+v", result.VideoStreams[1])
	}

	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30", 30},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseFrameRate(tt.in); got != tt.want {
				t.Errorf("parseFrameRate(%q) = %f, want %f", tt.in, got, tt.want)
			}
		})
	}
}

func TestMainStream(t *testing.T) {
	if MainStream[VideoStream](nil) != nil {
		t.Error("MainStream of no streams should be nil")
	}

	streams := []AudioStream{
		{Index: 1, FrameCount: 10},
		{Index: 2, FrameCount: 30},
		{Index: 3, FrameCount: 30},
	}
	if got := MainStream(streams); got.Index != 2 {
		t.Errorf("MainStream() index = %d, want 2 (first of the tie)", got.Index)
	}
}

func TestIsTranscodeRequired(t *testing.T) {
	h264 := &VideoStream{CodecName: "h264", Width: 1920, Height: 1080}
	small := &VideoStream{CodecName: "h264", Width: 640, Height: 480}
	hdr := &VideoStream{CodecName: "h264", Width: 640, Height: 480, IsHDR: true}
	hevc := &VideoStream{CodecName: "hevc", Width: 640, Height: 480}
	aac := &AudioStream{CodecName: "aac"}
	opus := &AudioStream{CodecName: "opus"}
	mp4 := "mov,mp4,m4a,3gp,3g2,mj2"

	withPolicy := func(p Policy) Config {
		c := DefaultConfig()
		c.Transcode = p
		return c
	}

	tests := []struct {
		name      string
		video     *VideoStream
		audio     *AudioStream
		container string
		cfg       Config
		want      bool
	}{
		{"missing dimensions", &VideoStream{CodecName: "hevc"}, nil, "matroska", withPolicy(PolicyAll), false},
		{"disabled", hevc, opus, "matroska", withPolicy(PolicyDisabled), false},
		{"all", small, aac, mp4, withPolicy(PolicyAll), true},
		{"required matching", h264, aac, mp4, withPolicy(PolicyRequired), false},
		{"required no audio", small, nil, "mp4", withPolicy(PolicyRequired), false},
		{"required wrong codec", hevc, aac, mp4, withPolicy(PolicyRequired), true},
		{"required wrong audio", small, opus, mp4, withPolicy(PolicyRequired), true},
		{"required wrong container", small, aac, "matroska,webm", withPolicy(PolicyRequired), true},
		{"required hdr", hdr, aac, mp4, withPolicy(PolicyRequired), true},
		{"optimal larger than target", h264, aac, mp4, withPolicy(PolicyOptimal), true},
		{"optimal small", small, aac, "mov", withPolicy(PolicyOptimal), false},
		{"unknown policy", hevc, aac, mp4, withPolicy("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTranscodeRequired("asset", tt.video, tt.audio, tt.container, tt.cfg); got != tt.want {
				t.Errorf("IsTranscodeRequired() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("optimal original resolution", func(t *testing.T) {
		cfg := withPolicy(PolicyOptimal)
		cfg.TargetResolution = "original"
		if IsTranscodeRequired("asset", h264, aac, mp4, cfg) {
			t.Error("no scaling target means nothing is larger than it")
		}
	})
}

func TestNewEncoderErrors(t *testing.T) {
	tests := []struct {
		name    string
		codec   VideoCodec
		accel   Accel
		devices []string
		wantErr error
	}{
		{"software av1", "av1", AccelDisabled, nil, ErrUnsupportedCodec},
		{"nvenc vp9", CodecVP9, AccelNVENC, nil, ErrUnsupportedCodec},
		{"unknown accel", CodecH264, "rkmpp", nil, ErrUnsupportedAccel},
		{"qsv no device", CodecH264, AccelQSV, []string{"by-path"}, ErrNoDevice},
		{"vaapi no device", CodecHEVC, AccelVAAPI, nil, ErrNoDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TargetVideoCodec = tt.codec
			cfg.Accel = tt.accel
			_, err := NewEncoder(cfg, "/dev/dri", tt.devices)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewEncoder() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func mustEncoder(t *testing.T, cfg Config, devices ...string) Encoder {
	t.Helper()
	enc, err := NewEncoder(cfg, "/dev/dri", devices)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	return enc
}

func TestSoftwareH264Options(t *testing.T) {
	video := &VideoStream{Index: 0, Width: 1920, Height: 1080}
	audio := &AudioStream{Index: 1}

	opts := mustEncoder(t, DefaultConfig()).Options(video, audio)

	wantOut := []string{
		"-c:v", "h264", "-c:a", "aac", "-movflags", "faststart", "-fps_mode", "passthrough",
		"-map", "0:0", "-map", "0:1",
		"-v", "verbose",
		"-vf", "scale=-2:720,format=yuv420p",
		"-preset", "ultrafast",
		"-crf", "23",
	}
	if !slices.Equal(opts.OutputOptions, wantOut) {
		t.Errorf("OutputOptions =\n%v\nwant\n%v", opts.OutputOptions, wantOut)
	}
	if len(opts.InputOptions) != 0 || opts.TwoPass {
		t.Errorf("unexpected input options %v or two-pass", opts.InputOptions)
	}
}

func TestSoftwareOptionVariants(t *testing.T) {
	vertical := &VideoStream{Width: 1080, Height: 1920}
	rotated := &VideoStream{Width: 1920, Height: 1080, Rotation: -90}
	hdr := &VideoStream{Width: 1280, Height: 720, IsHDR: true}

	t.Run("vertical scaling", func(t *testing.T) {
		opts := mustEncoder(t, DefaultConfig()).Options(vertical, nil)
		assertContainsPair(t, opts.OutputOptions, "-vf", "scale=720:-2,format=yuv420p")
	})

	t.Run("rotated counts as vertical", func(t *testing.T) {
		opts := mustEncoder(t, DefaultConfig()).Options(rotated, nil)
		assertContainsPair(t, opts.OutputOptions, "-vf", "scale=720:-2,format=yuv420p")
	})

	t.Run("hdr tone mapping", func(t *testing.T) {
		opts := mustEncoder(t, DefaultConfig()).Options(hdr, nil)
		assertContainsPair(t, opts.OutputOptions, "-vf",
			"zscale=t=linear:npl=100,tonemap=hable:desat=0,zscale=p=709:t=709:m=709:range=pc,format=yuv420p")
	})

	t.Run("bitrate cap", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxBitrate = "4500k"
		opts := mustEncoder(t, cfg).Options(hdr, nil)
		assertContainsPair(t, opts.OutputOptions, "-maxrate", "4500k")
		assertContainsPair(t, opts.OutputOptions, "-bufsize", "9000k")
	})

	t.Run("h264 threads", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Threads = 2
		opts := mustEncoder(t, cfg).Options(hdr, nil)
		assertContainsPair(t, opts.OutputOptions, "-threads", "2")
		assertContainsPair(t, opts.OutputOptions, "-x264-params", "pools=none:frame-threads=2")
	})

	t.Run("vp9 two pass", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TargetVideoCodec = CodecVP9
		cfg.TwoPass = true
		cfg.MaxBitrate = "1000k"
		opts := mustEncoder(t, cfg).Options(hdr, nil)
		if !opts.TwoPass {
			t.Error("vp9 with two-pass enabled should use two passes")
		}
		assertContainsPair(t, opts.OutputOptions, "-b:v", "690k")
		assertContainsPair(t, opts.OutputOptions, "-minrate", "345k")
		assertContainsPair(t, opts.OutputOptions, "-cpu-used", "5")
		assertContainsPair(t, opts.OutputOptions, "-row-mt", "1")
	})

	t.Run("h264 two pass needs bitrate", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TwoPass = true
		if mustEncoder(t, cfg).Options(hdr, nil).TwoPass {
			t.Error("unconstrained h264 should not use two passes")
		}
	})

	t.Run("cqp uses q:v", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CQMode = CQModeCQP
		opts := mustEncoder(t, cfg).Options(hdr, nil)
		assertContainsPair(t, opts.OutputOptions, "-q:v", "23")
	})
}

func TestHardwareOptions(t *testing.T) {
	video := &VideoStream{Index: 0, Width: 1920, Height: 1080}

	t.Run("nvenc", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Accel = AccelNVENC
		cfg.Preset = "medium"
		opts := mustEncoder(t, cfg).Options(video, nil)
		assertContainsPair(t, opts.InputOptions, "-init_hw_device", "cuda=cuda:0")
		assertContainsPair(t, opts.OutputOptions, "-c:v", "h264_nvenc")
		assertContainsPair(t, opts.OutputOptions, "-preset", "p4")
		assertContainsPair(t, opts.OutputOptions, "-g", "256")
		assertContainsPair(t, opts.OutputOptions, "-cq:v", "23")
		assertContainsPair(t, opts.OutputOptions, "-vf", "format=nv12,hwupload_cuda,scale_cuda=-2:720")
	})

	t.Run("qsv", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Accel = AccelQSV
		cfg.TargetVideoCodec = CodecVP9
		opts := mustEncoder(t, cfg, "card0").Options(video, nil)
		assertContainsPair(t, opts.OutputOptions, "-c:v", "vp9_qsv")
		assertContainsPair(t, opts.OutputOptions, "-low_power", "1")
		assertContainsPair(t, opts.OutputOptions, "-bf", "7")
		assertContainsPair(t, opts.OutputOptions, "-refs", "5")
		assertContainsPair(t, opts.OutputOptions, "-q:v", "23")
		assertContainsPair(t, opts.OutputOptions, "-vf", "format=nv12,hwupload=extra_hw_frames=64,scale_qsv=-1:720")
	})

	t.Run("vaapi prefers render node", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Accel = AccelVAAPI
		cfg.CQMode = CQModeICQ
		opts := mustEncoder(t, cfg, "card0", "renderD129", "renderD128").Options(video, nil)
		assertContainsPair(t, opts.InputOptions, "-init_hw_device", "vaapi=accel:/dev/dri/renderD128")
		assertContainsPair(t, opts.OutputOptions, "-global_quality", "23")
		assertContainsPair(t, opts.OutputOptions, "-rc_mode", "4")
		assertContainsPair(t, opts.OutputOptions, "-compression_level", "7")
	})

	t.Run("hardware never two pass", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Accel = AccelNVENC
		cfg.TwoPass = true
		cfg.MaxBitrate = "10000k"
		opts := mustEncoder(t, cfg).Options(video, nil)
		if opts.TwoPass {
			t.Error("hardware encoders use -multipass, not two ffmpeg runs")
		}
		assertContainsPair(t, opts.OutputOptions, "-multipass", "2")
	})
}

func TestThumbnailEncoder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Accel = AccelNVENC
	cfg.Tonemap = ToneMapDisabled

	opts := NewThumbnailEncoder(cfg, 250).Options(&VideoStream{Width: 1920, Height: 1080}, nil)
	assertContainsPair(t, opts.InputOptions, "-ss", "00:00:00")
	assertContainsPair(t, opts.OutputOptions, "-frames:v", "1")
	assertContainsPair(t, opts.OutputOptions, "-vf",
		"scale=-2:250:flags=lanczos+accurate_rnd+bitexact+full_chroma_int:out_color_matrix=601:out_range=pc,format=yuv420p")

	hdr := NewThumbnailEncoder(cfg, 250).Options(&VideoStream{Width: 200, Height: 100, IsHDR: true}, nil)
	vf := valueAfter(hdr.OutputOptions, "-vf")
	if !strings.Contains(vf, "tonemap=hable") || !strings.Contains(vf, "t=601:m=470bg") {
		t.Errorf("HDR thumbnails should always be tone mapped, got %q", vf)
	}
	if slices.Contains(hdr.OutputOptions, "-crf") {
		t.Error("thumbnail options should not carry rate control")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"crf range", func(c *Config) { c.CRF = 60 }},
		{"resolution", func(c *Config) { c.TargetResolution = "big" }},
		{"bitrate", func(c *Config) { c.MaxBitrate = "fast" }},
		{"audio codec", func(c *Config) { c.TargetAudioCodec = "flac" }},
		{"policy", func(c *Config) { c.Transcode = "sometimes" }},
		{"nvenc vp9", func(c *Config) {
			c.Accel = AccelNVENC
			c.TargetVideoCodec = CodecVP9
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs("in.mov", "out.mp4", Options{
		InputOptions:  []string{"-ss", "00:00:00"},
		OutputOptions: []string{"-frames:v", "1"},
	}, []string{"-pass", "2"})

	want := []string{"-y", "-ss", "00:00:00", "-i", "in.mov", "-frames:v", "1", "-pass", "2", "out.mp4"}
	if !slices.Equal(args, want) {
		t.Errorf("buildArgs() = %v, want %v", args, want)
	}
}

func valueAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func assertContainsPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	if got := valueAfter(args, flag); got != value {
		t.Errorf("%s = %q, want %q in %v", flag, got, value, args)
	}
}
