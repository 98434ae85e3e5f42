package transcoder

import (
	"errors"
	"fmt"
	"regexp"
)

// VideoCodec is a target video codec.
type VideoCodec string

const (
	CodecH264 VideoCodec = "h264"
	CodecHEVC VideoCodec = "hevc"
	CodecVP9  VideoCodec = "vp9"
)

// AudioCodec is a target audio codec.
type AudioCodec string

const (
	AudioAAC  AudioCodec = "aac"
	AudioMP3  AudioCodec = "mp3"
	AudioOpus AudioCodec = "libopus"
)

// Policy decides which videos get transcoded.
type Policy string

const (
	PolicyAll      Policy = "all"
	PolicyOptimal  Policy = "optimal"
	PolicyRequired Policy = "required"
	PolicyDisabled Policy = "disabled"
)

// Accel selects hardware acceleration.
type Accel string

const (
	AccelNVENC    Accel = "nvenc"
	AccelQSV      Accel = "qsv"
	AccelVAAPI    Accel = "vaapi"
	AccelDisabled Accel = "disabled"
)

// ToneMapping is the HDR to SDR tone mapping curve.
type ToneMapping string

const (
	ToneMapHable    ToneMapping = "hable"
	ToneMapMobius   ToneMapping = "mobius"
	ToneMapReinhard ToneMapping = "reinhard"
	ToneMapDisabled ToneMapping = "disabled"
)

// CQMode selects the constant quality rate control of hardware encoders.
type CQMode string

const (
	CQModeAuto CQMode = "auto"
	CQModeCQP  CQMode = "cqp"
	CQModeICQ  CQMode = "icq"
)

var (
	// ErrUnsupportedCodec is returned when the target codec cannot be
	// produced with the selected acceleration.
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrUnsupportedAccel is returned for an unknown acceleration.
	ErrUnsupportedAccel = errors.New("unsupported acceleration")
	// ErrNoDevice is returned when QSV or VAAPI is selected and no device
	// node exists.
	ErrNoDevice = errors.New("no hardware device found")
)

// Config holds the ffmpeg settings of the system configuration.
type Config struct {
	CRF              int         `json:"crf" toml:"crf"`
	Threads          int         `json:"threads" toml:"threads"`
	Preset           string      `json:"preset" toml:"preset"`
	TargetVideoCodec VideoCodec  `json:"targetVideoCodec" toml:"targetVideoCodec"`
	TargetAudioCodec AudioCodec  `json:"targetAudioCodec" toml:"targetAudioCodec"`
	TargetResolution string      `json:"targetResolution" toml:"targetResolution"`
	MaxBitrate       string      `json:"maxBitrate" toml:"maxBitrate"`
	BFrames          int         `json:"bframes" toml:"bframes"`
	Refs             int         `json:"refs" toml:"refs"`
	GOPSize          int         `json:"gopSize" toml:"gopSize"`
	NPL              int         `json:"npl" toml:"npl"`
	TemporalAQ       bool        `json:"temporalAQ" toml:"temporalAQ"`
	CQMode           CQMode      `json:"cqMode" toml:"cqMode"`
	TwoPass          bool        `json:"twoPass" toml:"twoPass"`
	Transcode        Policy      `json:"transcode" toml:"transcode"`
	Accel            Accel       `json:"accel" toml:"accel"`
	Tonemap          ToneMapping `json:"tonemap" toml:"tonemap"`
}

// DefaultConfig returns the default ffmpeg settings.
func DefaultConfig() Config {
	return Config{
		CRF:              23,
		Threads:          0,
		Preset:           "ultrafast",
		TargetVideoCodec: CodecH264,
		TargetAudioCodec: AudioAAC,
		TargetResolution: "720",
		MaxBitrate:       "0",
		BFrames:          -1,
		Refs:             0,
		GOPSize:          0,
		NPL:              0,
		TemporalAQ:       false,
		CQMode:           CQModeAuto,
		TwoPass:          false,
		Transcode:        PolicyRequired,
		Accel:            AccelDisabled,
		Tonemap:          ToneMapHable,
	}
}

var (
	resolutionPattern = regexp.MustCompile(`^(original|\d+)$`)
	bitratePattern    = regexp.MustCompile(`^\d+[a-zA-Z]*$`)
)

// Validate checks values and the codec/acceleration combination.
func (c Config) Validate() error {
	var errs []error
	if c.CRF < 0 || c.CRF > 51 {
		errs = append(errs, fmt.Errorf("ffmpeg.crf must be between 0 and 51, got %d", c.CRF))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("ffmpeg.threads must not be negative, got %d", c.Threads))
	}
	if !resolutionPattern.MatchString(c.TargetResolution) {
		errs = append(errs, fmt.Errorf("ffmpeg.targetResolution must be a number or \"original\", got %q", c.TargetResolution))
	}
	if !bitratePattern.MatchString(c.MaxBitrate) {
		errs = append(errs, fmt.Errorf("ffmpeg.maxBitrate is invalid: %q", c.MaxBitrate))
	}
	switch c.TargetAudioCodec {
	case AudioAAC, AudioMP3, AudioOpus:
	default:
		errs = append(errs, fmt.Errorf("ffmpeg.targetAudioCodec %q is unsupported", c.TargetAudioCodec))
	}
	switch c.Transcode {
	case PolicyAll, PolicyOptimal, PolicyRequired, PolicyDisabled:
	default:
		errs = append(errs, fmt.Errorf("ffmpeg.transcode %q is unsupported", c.Transcode))
	}
	switch c.Tonemap {
	case ToneMapHable, ToneMapMobius, ToneMapReinhard, ToneMapDisabled:
	default:
		errs = append(errs, fmt.Errorf("ffmpeg.tonemap %q is unsupported", c.Tonemap))
	}
	switch c.CQMode {
	case CQModeAuto, CQModeCQP, CQModeICQ:
	default:
		errs = append(errs, fmt.Errorf("ffmpeg.cqMode %q is unsupported", c.CQMode))
	}
	if err := checkCodecSupport(c); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var supportedCodecs = map[Accel][]VideoCodec{
	AccelDisabled: {CodecH264, CodecHEVC, CodecVP9},
	AccelNVENC:    {CodecH264, CodecHEVC},
	AccelQSV:      {CodecH264, CodecHEVC, CodecVP9},
	AccelVAAPI:    {CodecH264, CodecHEVC, CodecVP9},
}

// SupportedCodecs lists the codecs an acceleration can encode.
func SupportedCodecs(accel Accel) []VideoCodec {
	return supportedCodecs[accel]
}

func checkCodecSupport(c Config) error {
	codecs, ok := supportedCodecs[c.Accel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAccel, c.Accel)
	}
	for _, codec := range codecs {
		if codec == c.TargetVideoCodec {
			return nil
		}
	}
	if c.Accel == AccelDisabled {
		return fmt.Errorf("%w: codec '%s' is unsupported", ErrUnsupportedCodec, c.TargetVideoCodec)
	}
	return fmt.Errorf("%w: %s acceleration does not support codec '%s', supported codecs: %v",
		ErrUnsupportedCodec, c.Accel, c.TargetVideoCodec, codecs)
}
