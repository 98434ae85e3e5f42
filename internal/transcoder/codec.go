package transcoder

import (
	"fmt"
	"math"
	"path"
	"slices"
	"strconv"
	"strings"
)

// Options is one ffmpeg invocation: arguments placed before and after the
// input, and whether to encode in two passes.
type Options struct {
	InputOptions  []string `json:"inputOptions"`
	OutputOptions []string `json:"outputOptions"`
	TwoPass       bool     `json:"twoPass"`
}

// Encoder builds ffmpeg options for a pair of main streams.
type Encoder interface {
	Options(video *VideoStream, audio *AudioStream) Options
}

// NewEncoder returns the encoder for the configured codec and acceleration.
// devices are the entries of deviceDir (normally /dev/dri); they are only
// consulted for QSV and VAAPI.
func NewEncoder(cfg Config, deviceDir string, devices []string) (Encoder, error) {
	if err := checkCodecSupport(cfg); err != nil {
		return nil, err
	}
	b := base{cfg: cfg}
	switch cfg.Accel {
	case AccelDisabled:
		return software{b}, nil
	case AccelNVENC:
		return nvenc{b}, nil
	case AccelQSV:
		if len(renderDevices(devices)) == 0 {
			return nil, fmt.Errorf("%w: no QSV device found", ErrNoDevice)
		}
		return qsv{b}, nil
	case AccelVAAPI:
		nodes := renderDevices(devices)
		if len(nodes) == 0 {
			return nil, fmt.Errorf("%w: no VAAPI device found", ErrNoDevice)
		}
		return vaapi{base: b, device: path.Join(deviceDir, nodes[0])}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAccel, cfg.Accel)
	}
}

// NewThumbnailEncoder returns an encoder extracting one frame scaled so its
// smaller side is size.
func NewThumbnailEncoder(cfg Config, size int) Encoder {
	cfg.TargetResolution = strconv.Itoa(size)
	cfg.Accel = AccelDisabled
	return thumbnail{base{cfg: cfg}}
}

// renderDevices keeps render nodes first, then card nodes.
func renderDevices(devices []string) []string {
	var render, card []string
	for _, d := range devices {
		switch {
		case strings.HasPrefix(d, "renderD"):
			render = append(render, d)
		case strings.HasPrefix(d, "card"):
			card = append(card, d)
		}
	}
	slices.Sort(render)
	slices.Sort(card)
	return append(render, card...)
}

var presets = []string{"veryslow", "slower", "slow", "medium", "fast", "faster", "veryfast", "superfast", "ultrafast"}

type base struct {
	cfg Config
}

type colors struct {
	primaries, transfer, matrix string
}

type bitrates struct {
	max, target, min int
	unit             string
}

func (b base) targetResolution(v *VideoStream) int {
	if b.cfg.TargetResolution == "original" {
		return min(v.Height, v.Width)
	}
	res, _ := strconv.Atoi(b.cfg.TargetResolution)
	return res
}

func (b base) shouldScale(v *VideoStream) bool {
	return min(v.Height, v.Width) > b.targetResolution(v)
}

func (b base) isVertical(v *VideoStream) bool {
	return v.Height > v.Width || abs(v.Rotation) == 90
}

// scaling returns the scale filter arguments. mult is the divisor hint for
// the free dimension; QSV rejects values below -1.
func (b base) scaling(v *VideoStream, mult int) string {
	target := b.targetResolution(v)
	if b.isVertical(v) {
		return fmt.Sprintf("%d:-%d", target, mult)
	}
	return fmt.Sprintf("-%d:%d", mult, target)
}

func (b base) shouldToneMap(v *VideoStream) bool {
	return v.IsHDR && b.cfg.Tonemap != ToneMapDisabled
}

func (b base) npl() int {
	if b.cfg.NPL > 0 {
		return b.cfg.NPL
	}
	// hable already darkens the image
	if b.cfg.Tonemap == ToneMapHable {
		return 100
	}
	return 250
}

func (b base) toneMapping(curve ToneMapping, c colors) []string {
	return []string{
		fmt.Sprintf("zscale=t=linear:npl=%d", b.npl()),
		fmt.Sprintf("tonemap=%s:desat=0", curve),
		fmt.Sprintf("zscale=p=%s:t=%s:m=%s:range=pc", c.primaries, c.transfer, c.matrix),
	}
}

var videoColors = colors{primaries: "709", transfer: "709", matrix: "709"}

// maxBitrate splits "10000k" into 10000 and "k".
func (b base) maxBitrate() (int, string) {
	s := strings.TrimSpace(b.cfg.MaxBitrate)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	if n == 0 {
		return 0, ""
	}
	return n, s[end:]
}

func (b base) bitrates() bitrates {
	maxRate, unit := b.maxBitrate()
	target := int(math.Ceil(float64(maxRate) / 1.45))
	return bitrates{max: maxRate, target: target, min: target / 2, unit: unit}
}

func (b base) presetIndex() int {
	return slices.Index(presets, b.cfg.Preset)
}

func (b base) eligibleForTwoPass() bool {
	if !b.cfg.TwoPass || b.cfg.Accel != AccelDisabled {
		return false
	}
	maxRate, _ := b.maxBitrate()
	return maxRate > 0 || b.cfg.TargetVideoCodec == CodecVP9
}

func (b base) commonOutput(videoCodec string, v *VideoStream, a *AudioStream, bframes, refs, gop int) []string {
	opts := []string{
		"-c:v", videoCodec,
		"-c:a", string(b.cfg.TargetAudioCodec),
		// moves the moov atom to the front for faster playback start
		"-movflags", "faststart",
		"-fps_mode", "passthrough",
		"-map", fmt.Sprintf("0:%d", v.Index),
	}
	if a != nil {
		opts = append(opts, "-map", fmt.Sprintf("0:%d", a.Index))
	}
	if bframes > -1 {
		opts = append(opts, "-bf", strconv.Itoa(bframes))
	}
	if refs > 0 {
		opts = append(opts, "-refs", strconv.Itoa(refs))
	}
	if gop > 0 {
		opts = append(opts, "-g", strconv.Itoa(gop))
	}
	return opts
}

func (b base) threadOptions() []string {
	if b.cfg.Threads <= 0 {
		return nil
	}
	return []string{"-threads", strconv.Itoa(b.cfg.Threads)}
}

func (b base) qualityFlag(cqp bool) string {
	if cqp {
		return "-q:v"
	}
	return "-crf"
}

func assemble(in, out, filters, preset, threads, bitrate []string, twoPass bool) Options {
	out = append(out, "-v", "verbose")
	if len(filters) > 0 {
		out = append(out, "-vf", strings.Join(filters, ","))
	}
	out = append(out, preset...)
	out = append(out, threads...)
	out = append(out, bitrate...)
	if in == nil {
		in = []string{}
	}
	return Options{InputOptions: in, OutputOptions: out, TwoPass: twoPass}
}

// software encodes with libx264, libx265 or libvpx-vp9.
type software struct {
	base
}

func (s software) Options(v *VideoStream, a *AudioStream) Options {
	out := s.commonOutput(string(s.cfg.TargetVideoCodec), v, a, s.cfg.BFrames, s.cfg.Refs, s.cfg.GOPSize)

	var filters []string
	if s.shouldScale(v) {
		filters = append(filters, "scale="+s.scaling(v, 2))
	}
	if s.shouldToneMap(v) {
		filters = append(filters, s.toneMapping(s.cfg.Tonemap, videoColors)...)
	}
	filters = append(filters, "format=yuv420p")

	return assemble(nil, out, filters, s.presetOptions(), s.threads(), s.bitrateOptions(), s.eligibleForTwoPass())
}

func (s software) presetOptions() []string {
	if s.cfg.TargetVideoCodec == CodecVP9 {
		// speeds above 5 need realtime mode, which overrides -crf and -threads
		speed := min(s.presetIndex(), 5)
		if speed >= 0 {
			return []string{"-cpu-used", strconv.Itoa(speed)}
		}
		return nil
	}
	return []string{"-preset", s.cfg.Preset}
}

func (s software) threads() []string {
	switch s.cfg.TargetVideoCodec {
	case CodecVP9:
		return append([]string{"-row-mt", "1"}, s.threadOptions()...)
	case CodecH264, CodecHEVC:
		if s.cfg.Threads <= 0 {
			return nil
		}
		param := "-x264-params"
		if s.cfg.TargetVideoCodec == CodecHEVC {
			param = "-x265-params"
		}
		return append(s.threadOptions(), param, fmt.Sprintf("pools=none:frame-threads=%d", s.cfg.Threads))
	}
	return s.threadOptions()
}

func (s software) bitrateOptions() []string {
	br := s.bitrates()
	quality := []string{s.qualityFlag(s.cfg.CQMode == CQModeCQP), strconv.Itoa(s.cfg.CRF)}
	switch {
	case s.eligibleForTwoPass():
		return []string{
			"-b:v", fmt.Sprintf("%d%s", br.target, br.unit),
			"-minrate", fmt.Sprintf("%d%s", br.min, br.unit),
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
		}
	case s.cfg.TargetVideoCodec == CodecVP9:
		return append(quality, "-b:v", fmt.Sprintf("%d%s", br.max, br.unit))
	case br.max > 0:
		// -maxrate is the rolling average, -bufsize the peak
		return append(quality,
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
			"-bufsize", fmt.Sprintf("%d%s", br.max*2, br.unit))
	default:
		return quality
	}
}

func hwGOP(cfg Config) int {
	if cfg.GOPSize <= 0 {
		return 256
	}
	return cfg.GOPSize
}

func hwCodec(cfg Config) string {
	return fmt.Sprintf("%s_%s", cfg.TargetVideoCodec, cfg.Accel)
}

type nvenc struct {
	base
}

func (n nvenc) Options(v *VideoStream, a *AudioStream) Options {
	in := []string{"-init_hw_device", "cuda=cuda:0", "-filter_hw_device", "cuda"}

	refs := n.cfg.Refs
	if n.cfg.BFrames > 0 && n.cfg.BFrames < 3 && n.cfg.Refs < 3 {
		refs = 0
	}
	out := []string{"-tune", "hq", "-qmin", "0", "-rc-lookahead", "20", "-i_qfactor", "0.75"}
	out = append(out, n.commonOutput(hwCodec(n.cfg), v, a, n.cfg.BFrames, refs, hwGOP(n.cfg))...)
	if n.cfg.TemporalAQ {
		out = append(out, "-temporal-aq", "1")
	}

	var filters []string
	if n.shouldToneMap(v) {
		filters = append(filters, n.toneMapping(n.cfg.Tonemap, videoColors)...)
	}
	filters = append(filters, "format=nv12", "hwupload_cuda")
	if n.shouldScale(v) {
		filters = append(filters, "scale_cuda="+n.scaling(v, 2))
	}

	var preset []string
	if idx := n.presetIndex(); idx >= 0 {
		// p7 is the slowest, highest quality preset
		preset = []string{"-preset", fmt.Sprintf("p%d", 7-min(6, idx))}
	}

	return assemble(in, out, filters, preset, nil, n.bitrateOptions(), false)
}

func (n nvenc) bitrateOptions() []string {
	br := n.bitrates()
	switch {
	case br.max > 0 && n.cfg.TwoPass:
		return []string{
			"-b:v", fmt.Sprintf("%d%s", br.target, br.unit),
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
			"-bufsize", fmt.Sprintf("%d%s", br.target, br.unit),
			"-multipass", "2",
		}
	case br.max > 0:
		return []string{
			"-cq:v", strconv.Itoa(n.cfg.CRF),
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
			"-bufsize", fmt.Sprintf("%d%s", br.target, br.unit),
		}
	default:
		return []string{"-cq:v", strconv.Itoa(n.cfg.CRF)}
	}
}

type qsv struct {
	base
}

func (q qsv) Options(v *VideoStream, a *AudioStream) Options {
	in := []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}

	bframes := q.cfg.BFrames
	if bframes < 0 {
		bframes = 7
	}
	refs := q.cfg.Refs
	if refs <= 0 {
		refs = 5
	}
	out := q.commonOutput(hwCodec(q.cfg), v, a, bframes, refs, hwGOP(q.cfg))
	// VP9 encoding on QSV only works in low power mode
	if q.cfg.TargetVideoCodec == CodecVP9 {
		out = append(out, "-low_power", "1")
	}

	var filters []string
	if q.shouldToneMap(v) {
		filters = append(filters, q.toneMapping(q.cfg.Tonemap, videoColors)...)
	}
	filters = append(filters, "format=nv12", "hwupload=extra_hw_frames=64")
	if q.shouldScale(v) {
		filters = append(filters, "scale_qsv="+q.scaling(v, 1))
	}

	var preset []string
	if idx := q.presetIndex(); idx >= 0 {
		preset = []string{"-preset", strconv.Itoa(min(6, idx) + 1)}
	}

	cqp := q.cfg.CQMode == CQModeCQP || q.cfg.TargetVideoCodec == CodecVP9
	flag := "-global_quality"
	if cqp {
		flag = "-q:v"
	}
	bitrate := []string{flag, strconv.Itoa(q.cfg.CRF)}
	if br := q.bitrates(); br.max > 0 {
		bitrate = append(bitrate,
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
			"-bufsize", fmt.Sprintf("%d%s", br.max*2, br.unit))
	}

	return assemble(in, out, filters, preset, nil, bitrate, false)
}

type vaapi struct {
	base
	device string
}

func (va vaapi) Options(v *VideoStream, a *AudioStream) Options {
	in := []string{"-init_hw_device", "vaapi=accel:" + va.device, "-filter_hw_device", "accel"}
	out := va.commonOutput(hwCodec(va.cfg), v, a, va.cfg.BFrames, va.cfg.Refs, hwGOP(va.cfg))

	var filters []string
	if va.shouldToneMap(v) {
		filters = append(filters, va.toneMapping(va.cfg.Tonemap, videoColors)...)
	}
	filters = append(filters, "format=nv12", "hwupload")
	if va.shouldScale(v) {
		filters = append(filters, "scale_vaapi="+va.scaling(v, 2))
	}

	var preset []string
	if idx := va.presetIndex(); idx >= 0 {
		preset = []string{"-compression_level", strconv.Itoa(min(6, idx) + 1)}
	}

	return assemble(in, out, filters, preset, nil, va.bitrateOptions(), false)
}

func (va vaapi) bitrateOptions() []string {
	br := va.bitrates()
	cqp := va.cfg.CQMode != CQModeICQ || va.cfg.TargetVideoCodec == CodecVP9
	crf := strconv.Itoa(va.cfg.CRF)
	switch {
	// VAAPI cannot combine a quality target with a bitrate cap
	case br.max > 0:
		return []string{
			"-b:v", fmt.Sprintf("%d%s", br.target, br.unit),
			"-maxrate", fmt.Sprintf("%d%s", br.max, br.unit),
			"-minrate", fmt.Sprintf("%d%s", br.min, br.unit),
			"-rc_mode", "3",
		}
	case cqp:
		return []string{"-qp", crf, "-global_quality", crf, "-rc_mode", "1"}
	default:
		return []string{"-global_quality", crf, "-rc_mode", "4"}
	}
}

// thumbnail grabs a single frame.
type thumbnail struct {
	base
}

var thumbnailColors = colors{primaries: "709", transfer: "601", matrix: "470bg"}

func (t thumbnail) Options(v *VideoStream, _ *AudioStream) Options {
	in := []string{"-ss", "00:00:00", "-sws_flags", "accurate_rnd+bitexact+full_chroma_int"}
	out := []string{"-frames:v", "1"}

	toneMap := v.IsHDR
	var filters []string
	if t.shouldScale(v) {
		scale := "scale=" + t.scaling(v, 2) + ":flags=lanczos+accurate_rnd+bitexact+full_chroma_int"
		if !toneMap {
			scale += ":out_color_matrix=601:out_range=pc"
		}
		filters = append(filters, scale)
	}
	if toneMap {
		curve := t.cfg.Tonemap
		if curve == ToneMapDisabled {
			curve = ToneMapHable
		}
		filters = append(filters, t.toneMapping(curve, thumbnailColors)...)
	}
	filters = append(filters, "format=yuv420p")

	return assemble(in, out, filters, nil, t.threadOptions(), nil, false)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
