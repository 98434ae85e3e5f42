package sysconfig

import (
	"errors"
	"fmt"
	"maps"
	"net/url"

	"media-pipeline/internal/jobs"
	"media-pipeline/internal/media"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/transcoder"
)

// JobSettings configures one queue.
type JobSettings struct {
	Concurrency int `json:"concurrency" toml:"concurrency"`
}

// ClassificationConfig configures image tagging.
type ClassificationConfig struct {
	Enabled   bool    `json:"enabled" toml:"enabled"`
	ModelName string  `json:"modelName" toml:"modelName"`
	MinScore  float64 `json:"minScore" toml:"minScore"`
}

// ClipConfig configures CLIP embeddings.
type ClipConfig struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	ModelName string `json:"modelName" toml:"modelName"`
}

// FacialRecognitionConfig configures face detection and person matching.
type FacialRecognitionConfig struct {
	Enabled     bool    `json:"enabled" toml:"enabled"`
	ModelName   string  `json:"modelName" toml:"modelName"`
	MinScore    float64 `json:"minScore" toml:"minScore"`
	MaxDistance float64 `json:"maxDistance" toml:"maxDistance"`
}

// MachineLearningConfig points at the ML service.
type MachineLearningConfig struct {
	Enabled           bool                    `json:"enabled" toml:"enabled"`
	URL               string                  `json:"url" toml:"url"`
	Classification    ClassificationConfig    `json:"classification" toml:"classification"`
	Clip              ClipConfig              `json:"clip" toml:"clip"`
	FacialRecognition FacialRecognitionConfig `json:"facialRecognition" toml:"facialRecognition"`
}

// ReverseGeocodingConfig toggles place lookups during metadata extraction.
type ReverseGeocodingConfig struct {
	Enabled bool `json:"enabled" toml:"enabled"`
}

// StorageTemplateConfig controls where originals and derived files go.
type StorageTemplateConfig struct {
	Template      string         `json:"template" toml:"template"`
	DerivedLayout storage.Layout `json:"derivedLayout" toml:"derivedLayout"`
}

// ThumbnailConfig controls generated previews.
type ThumbnailConfig struct {
	WebpSize   int              `json:"webpSize" toml:"webpSize"`
	JpegSize   int              `json:"jpegSize" toml:"jpegSize"`
	Quality    int              `json:"quality" toml:"quality"`
	Colorspace media.Colorspace `json:"colorspace" toml:"colorspace"`
}

// SystemConfig is the runtime configuration shared by every process using
// the same database. Values handed out by Core are copies; mutating one has
// no effect on other holders.
type SystemConfig struct {
	FFmpeg           transcoder.Config              `json:"ffmpeg" toml:"ffmpeg"`
	Job              map[jobs.QueueName]JobSettings `json:"job" toml:"job"`
	MachineLearning  MachineLearningConfig          `json:"machineLearning" toml:"machineLearning"`
	ReverseGeocoding ReverseGeocodingConfig         `json:"reverseGeocoding" toml:"reverseGeocoding"`
	StorageTemplate  StorageTemplateConfig          `json:"storageTemplate" toml:"storageTemplate"`
	Thumbnail        ThumbnailConfig                `json:"thumbnail" toml:"thumbnail"`
}

var defaultConcurrency = map[jobs.QueueName]int{
	jobs.QueueThumbnailGeneration: 5,
	jobs.QueueMetadataExtraction:  5,
	jobs.QueueVideoConversion:     1,
	jobs.QueueObjectTagging:       2,
	jobs.QueueRecognizeFaces:      2,
	jobs.QueueClipEncoding:        2,
	jobs.QueueBackgroundTask:      5,
	jobs.QueueMigration:           5,
	jobs.QueueStorageTemplate:     5,
	jobs.QueueSidecar:             5,
	jobs.QueueLibrary:             5,
}

// Defaults returns the built-in configuration.
func Defaults() SystemConfig {
	job := make(map[jobs.QueueName]JobSettings, len(defaultConcurrency))
	for q, n := range defaultConcurrency {
		job[q] = JobSettings{Concurrency: n}
	}
	return SystemConfig{
		FFmpeg: transcoder.DefaultConfig(),
		Job:    job,
		MachineLearning: MachineLearningConfig{
			Enabled: true,
			URL:     "http://immich-machine-learning:3003",
			Classification: ClassificationConfig{
				Enabled:   true,
				ModelName: "microsoft/resnet-50",
				MinScore:  0.9,
			},
			Clip: ClipConfig{
				Enabled:   true,
				ModelName: "ViT-B-32__openai",
			},
			FacialRecognition: FacialRecognitionConfig{
				Enabled:     true,
				ModelName:   "buffalo_l",
				MinScore:    0.7,
				MaxDistance: 0.6,
			},
		},
		ReverseGeocoding: ReverseGeocodingConfig{Enabled: true},
		StorageTemplate: StorageTemplateConfig{
			Template:      storage.DefaultTemplate,
			DerivedLayout: storage.LayoutFlat,
		},
		Thumbnail: ThumbnailConfig{
			WebpSize:   250,
			JpegSize:   1440,
			Quality:    80,
			Colorspace: media.ColorspaceP3,
		},
	}
}

// Clone returns a deep copy.
func (c SystemConfig) Clone() SystemConfig {
	c.Job = maps.Clone(c.Job)
	return c
}

// Concurrency returns the configured worker count of a queue, at least 1.
func (c SystemConfig) Concurrency(q jobs.QueueName) int {
	if n := c.Job[q].Concurrency; n > 0 {
		return n
	}
	return 1
}

// Validate checks the structural rules every configuration must satisfy.
// Component specific checks are added with Core.AddValidator.
func (c SystemConfig) Validate() error {
	var errs []error

	if err := c.FFmpeg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ffmpeg: %w", err))
	}

	for q, s := range c.Job {
		if _, err := jobs.ParseQueue(string(q)); err != nil {
			errs = append(errs, fmt.Errorf("job: %w", err))
			continue
		}
		if s.Concurrency < 1 {
			errs = append(errs, fmt.Errorf("job.%s.concurrency must be at least 1", q))
		}
	}

	if c.MachineLearning.Enabled {
		if u, err := url.Parse(c.MachineLearning.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("machineLearning.url %q is not a valid URL", c.MachineLearning.URL))
		}
		fr := c.MachineLearning.FacialRecognition
		if fr.MinScore < 0 || fr.MinScore > 1 {
			errs = append(errs, errors.New("machineLearning.facialRecognition.minScore must be between 0 and 1"))
		}
		if fr.MaxDistance <= 0 {
			errs = append(errs, errors.New("machineLearning.facialRecognition.maxDistance must be positive"))
		}
	}

	if err := storage.ValidateTemplate(c.StorageTemplate.Template); err != nil {
		errs = append(errs, fmt.Errorf("storageTemplate: %w", err))
	}
	if !c.StorageTemplate.DerivedLayout.Valid() {
		errs = append(errs, fmt.Errorf("storageTemplate.derivedLayout %q is not supported", c.StorageTemplate.DerivedLayout))
	}

	t := c.Thumbnail
	if t.WebpSize < 1 || t.JpegSize < 1 {
		errs = append(errs, errors.New("thumbnail sizes must be positive"))
	}
	if t.Quality < 1 || t.Quality > 100 {
		errs = append(errs, fmt.Errorf("thumbnail.quality %d must be between 1 and 100", t.Quality))
	}
	if t.Colorspace != media.ColorspaceSRGB && t.Colorspace != media.ColorspaceP3 {
		errs = append(errs, fmt.Errorf("thumbnail.colorspace %q is not supported", t.Colorspace))
	}

	return errors.Join(errs...)
}
