package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"media-pipeline/internal/logging"
)

// VolumeResolver maps file paths to volume names for metric labeling using
// longest-prefix matching on absolute paths.
type VolumeResolver struct {
	// sorted by path length, longest first
	mounts []volumeMount
}

type volumeMount struct {
	path string // absolute, with trailing slash
	name string
}

// NewVolumeResolver creates a resolver from a map of volume name to path.
//
//	NewVolumeResolver(map[string]string{
//	    "media":    "/data",
//	    "database": "/database",
//	})
func NewVolumeResolver(volumes map[string]string) *VolumeResolver {
	mounts := make([]volumeMount, 0, len(volumes))
	for name, path := range volumes {
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		if !strings.HasSuffix(absPath, "/") {
			absPath += "/"
		}
		mounts = append(mounts, volumeMount{path: absPath, name: name})
	}

	sort.Slice(mounts, func(i, j int) bool {
		return len(mounts[i].path) > len(mounts[j].path)
	})

	return &VolumeResolver{mounts: mounts}
}

// Resolve returns the volume name for a path, or "unknown".
func (vr *VolumeResolver) Resolve(path string) string {
	if vr == nil {
		return "unknown"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "unknown"
	}

	for _, mount := range vr.mounts {
		if strings.HasPrefix(absPath+"/", mount.path) {
			return mount.name
		}
	}

	return "unknown"
}

// RetryConfig configures retry behavior for filesystem operations
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	VolumeResolver *VolumeResolver
}

// DefaultRetryConfig returns sensible defaults for NFS retry behavior
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

func (c *RetryConfig) resolveVolume(path string) string {
	return c.VolumeResolver.Resolve(path)
}

// isNFSStaleError checks if an error is an NFS stale file handle error
func isNFSStaleError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.ESTALE
	}

	return false
}

// withRetry runs op, retrying with exponential backoff while it fails with
// ESTALE. Other errors are returned immediately.
func withRetry[T any](opName, path string, config RetryConfig, op func() (T, error)) (T, error) {
	start := time.Now()
	volume := config.resolveVolume(path)
	obs := observe()
	backoff := config.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		v, err := op()
		if err == nil {
			if attempt > 0 {
				logging.Info("NFS %s succeeded on retry %d for %s", opName, attempt, path)
				if obs != nil {
					obs.ObserveRetrySuccess(opName, volume)
				}
			}
			if obs != nil {
				obs.ObserveRetryDuration(opName, volume, time.Since(start).Seconds())
			}
			return v, nil
		}

		lastErr = err
		if !isNFSStaleError(err) {
			if obs != nil {
				obs.ObserveRetryDuration(opName, volume, time.Since(start).Seconds())
			}
			var zero T
			return zero, err
		}

		if obs != nil {
			obs.ObserveStaleError(opName, volume)
		}

		if attempt < config.MaxRetries {
			if obs != nil {
				obs.ObserveRetryAttempt(opName, volume)
			}
			logging.Debug("NFS %s stale file handle for %s, retrying in %v (attempt %d/%d)",
				opName, path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	logging.Warn("NFS %s failed after %d retries for %s: %v", opName, config.MaxRetries, path, lastErr)
	if obs != nil {
		obs.ObserveRetryFailure(opName, volume)
		obs.ObserveRetryDuration(opName, volume, time.Since(start).Seconds())
	}
	var zero T
	return zero, lastErr
}

// StatWithRetry performs os.Stat with retry logic for NFS stale file handle errors
func StatWithRetry(path string, config RetryConfig) (os.FileInfo, error) {
	return withRetry("stat", path, config, func() (os.FileInfo, error) {
		return os.Stat(path)
	})
}

// OpenWithRetry performs os.Open with retry logic for NFS stale file handle errors
func OpenWithRetry(path string, config RetryConfig) (*os.File, error) {
	return withRetry("open", path, config, func() (*os.File, error) {
		return os.Open(path)
	})
}
