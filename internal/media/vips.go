package media

import (
	"fmt"
	"sync"

	"media-pipeline/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// InitVips initializes the libvips library.
// This should be called once at startup
func InitVips(concurrency int) error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Configure vips logging BEFORE Startup() so it respects LOG_LEVEL
	vips.LoggingSettings(vipsLogHandler(logging.GetLevel()))

	if concurrency <= 0 {
		concurrency = 1
	}
	vips.Startup(&vips.Config{
		ConcurrencyLevel: concurrency,
		MaxCacheMem:      50 * 1024 * 1024, // 50MB cache
		MaxCacheSize:     100,
		ReportLeaks:      false,
		CacheTrace:       false,
		CollectStats:     false,
	})

	vipsInitialized = true
	vipsAvailable = true
	logging.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// vipsLogHandler routes libvips messages through our logger, one level
// quieter than the application so libvips chatter stays out of info logs.
func vipsLogHandler(appLevel logging.LogLevel) (func(string, vips.LogLevel, string), vips.LogLevel) {
	var threshold vips.LogLevel
	switch appLevel {
	case logging.LevelDebug:
		threshold = vips.LogLevelInfo
	case logging.LevelInfo:
		threshold = vips.LogLevelWarning
	case logging.LevelWarn:
		threshold = vips.LogLevelError
	default:
		threshold = vips.LogLevelCritical
	}

	handler := func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}
	return handler, threshold
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

func loadVips(path string) (*vips.ImageRef, error) {
	params := vips.NewImportParams()
	// tolerate slightly corrupt JPEGs that viewers open fine
	params.FailOnError.Set(false)
	params.AutoRotate.Set(true)

	ref, err := vips.LoadImageFromFile(path, params)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	return ref, nil
}

// vipsThumbnail shrinks ref so its smaller side is size, converts color and
// encodes it.
func vipsThumbnail(ref *vips.ImageRef, opts ResizeOptions) ([]byte, error) {
	if scale := fitOutsideScale(ref.Width(), ref.Height(), opts.Size); scale < 1 {
		if err := ref.Resize(scale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("vips resize failed: %w", err)
		}
	}

	strip := false
	if opts.Colorspace == ColorspaceSRGB {
		if err := ref.TransformICCProfile(vips.SRGBIEC6196621ICCProfilePath); err != nil {
			logging.Debug("ICC transform to sRGB failed, keeping source profile: %v", err)
		} else {
			strip = true
		}
	}

	var (
		data []byte
		err  error
	)
	switch opts.Format {
	case FormatWebP:
		data, _, err = ref.ExportWebp(&vips.WebpExportParams{
			Quality:       opts.Quality,
			StripMetadata: strip,
		})
	default:
		data, _, err = ref.ExportJpeg(&vips.JpegExportParams{
			Quality:        opts.Quality,
			StripMetadata:  strip,
			Interlace:      true,
			OptimizeCoding: true,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}
	return data, nil
}
