package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"time"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/transcoder"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/galdor/go-thumbhash"
	_ "golang.org/x/image/webp" // WebP format support
)

// Format is an encoded thumbnail format.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// Colorspace is the target color space of generated thumbnails.
type Colorspace string

const (
	ColorspaceSRGB Colorspace = "srgb"
	ColorspaceP3   Colorspace = "p3"
)

const (
	// MaxImagePixels bounds what the pure-Go path will decode at full size.
	// A 20MP RGBA image is ~80MB.
	MaxImagePixels = 20_000_000

	thumbhashSize = 100
)

// ErrWebPUnsupported is returned when WebP output is requested without libvips.
var ErrWebPUnsupported = errors.New("webp encoding requires libvips")

// ResizeOptions controls thumbnail generation.
type ResizeOptions struct {
	// Size is the target length of the smaller side. Images are never enlarged.
	Size       int
	Format     Format
	Colorspace Colorspace
	Quality    int
}

// CropOptions is a pixel region of the source image.
type CropOptions struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Repository produces derived media files. Videos go through the embedded
// Transcoder, stills through libvips when it is available and imaging
// otherwise.
type Repository struct {
	*transcoder.Transcoder
	storage *filesystem.Storage
}

// NewRepository creates a media repository writing through storage.
func NewRepository(t *transcoder.Transcoder, storage *filesystem.Storage) *Repository {
	return &Repository{Transcoder: t, storage: storage}
}

// Resize writes a thumbnail of input to output.
func (r *Repository) Resize(ctx context.Context, input, output string, opts ResizeOptions) error {
	return r.generate(ctx, string(opts.Format), input, output, nil, opts)
}

// Crop extracts a region of input and writes it, resized, to output.
func (r *Repository) Crop(ctx context.Context, input, output string, crop CropOptions, opts ResizeOptions) error {
	if crop.Width <= 0 || crop.Height <= 0 {
		return fmt.Errorf("invalid crop region %dx%d", crop.Width, crop.Height)
	}
	return r.generate(ctx, "crop", input, output, &crop, opts)
}

func (r *Repository) generate(ctx context.Context, label, input, output string, crop *CropOptions, opts ResizeOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opts.Quality <= 0 {
		opts.Quality = 80
	}

	start := time.Now()
	data, err := encodeThumbnail(input, crop, opts)
	if err == nil {
		err = r.storage.WriteFile(output, data)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues(label, status).Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("generate %s thumbnail for %s: %w", label, input, err)
	}
	logging.Debug("Wrote %s thumbnail %s (%d bytes)", label, output, len(data))
	return nil
}

func encodeThumbnail(input string, crop *CropOptions, opts ResizeOptions) ([]byte, error) {
	if IsVipsAvailable() {
		ref, err := loadVips(input)
		if err == nil {
			defer ref.Close()
			if crop != nil {
				if err := ref.ExtractArea(crop.Left, crop.Top, crop.Width, crop.Height); err != nil {
					return nil, fmt.Errorf("vips crop failed: %w", err)
				}
			}
			return vipsThumbnail(ref, opts)
		}
		logging.Debug("vips could not load %s, falling back to imaging: %v", input, err)
	}
	return imagingThumbnail(input, crop, opts)
}

func imagingThumbnail(input string, crop *CropOptions, opts ResizeOptions) ([]byte, error) {
	if opts.Format == FormatWebP {
		return nil, ErrWebPUnsupported
	}

	img, err := loadImageConstrained(input, MaxImagePixels)
	if err != nil {
		return nil, err
	}
	if crop != nil {
		img = imaging.Crop(img, image.Rect(crop.Left, crop.Top, crop.Left+crop.Width, crop.Top+crop.Height))
	}

	b := img.Bounds()
	if scale := fitOutsideScale(b.Dx(), b.Dy(), opts.Size); scale < 1 {
		w := max(1, int(float64(b.Dx())*scale+0.5))
		h := max(1, int(float64(b.Dy())*scale+0.5))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitOutsideScale returns the factor that brings the smaller side of a
// width x height image down to size.
func fitOutsideScale(width, height, size int) float64 {
	short := min(width, height)
	if short <= 0 || size <= 0 {
		return 1
	}
	return float64(size) / float64(short)
}

// loadImageConstrained decodes path with EXIF orientation applied,
// downscaling anything above maxPixels so decoding huge stills cannot OOM.
func loadImageConstrained(path string, maxPixels int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	b := img.Bounds()
	pixels := b.Dx() * b.Dy()
	if pixels <= maxPixels {
		return img, nil
	}

	scale := float64(maxPixels) / float64(pixels)
	w := int(float64(b.Dx()) * math.Sqrt(scale))
	h := int(float64(b.Dy()) * math.Sqrt(scale))
	logging.Info("Constraining large image %s from %dx%d to %dx%d", path, b.Dx(), b.Dy(), w, h)
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// GenerateThumbhash returns the thumbhash of an existing thumbnail.
func (r *Repository) GenerateThumbhash(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	hash, err := thumbhashFile(path)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ThumbnailGenerationsTotal.WithLabelValues("thumbhash", status).Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues("thumbhash").Observe(time.Since(start).Seconds())
	return hash, err
}

func thumbhashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// thumbhash only keeps ~100px of detail
	img = imaging.Fit(img, thumbhashSize, thumbhashSize, imaging.Box)
	return thumbhash.EncodeImage(img), nil
}
