package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"media-pipeline/internal/logging"
)

// ReadStream is an open file together with its content type and size.
type ReadStream struct {
	io.ReadCloser
	Type   string
	Length int64
}

// Storage is the local-disk storage repository. Every file the pipeline
// reads, writes, moves or deletes goes through it.
type Storage struct {
	retry RetryConfig
}

// NewStorage creates a storage repository using the given retry settings.
func NewStorage(retry RetryConfig) *Storage {
	return &Storage{retry: retry}
}

func (s *Storage) observeOp(path, op string, start time.Time, err error) {
	if obs := observe(); obs != nil {
		obs.ObserveOperation(s.retry.resolveVolume(path), op, time.Since(start).Seconds(), err)
	}
}

// ReadFile reads an entire file.
func (s *Storage) ReadFile(path string) ([]byte, error) {
	start := time.Now()
	f, err := OpenWithRetry(path, s.retry)
	if err != nil {
		s.observeOp(path, "read", start, err)
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	s.observeOp(path, "read", start, err)
	return data, err
}

// WriteFile writes data atomically: a temporary sibling is written and
// renamed over path.
func (s *Storage) WriteFile(path string, data []byte) error {
	start := time.Now()
	err := s.writeFile(path, data)
	s.observeOp(path, "write", start, err)
	return err
}

func (s *Storage) writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := TempPath(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// CreateFile creates (or truncates) a file for writing, creating parents.
func (s *Storage) CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// TempPath returns a unique temporary path next to path. Renaming it over
// path is atomic on the same filesystem.
func TempPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+"."+uuid.NewString()[:8]+".tmp")
}

// MoveFile moves source to target. The target directory is created. When
// the rename crosses devices the content is copied to a temporary file next
// to target, renamed into place, and only then is source removed.
func (s *Storage) MoveFile(source, target string) error {
	start := time.Now()
	err := s.moveFile(source, target)
	s.observeOp(target, "move", start, err)
	return err
}

func (s *Storage) moveFile(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	err := os.Rename(source, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}

	logging.Debug("Cross-device move %s -> %s, copying", source, target)
	tmp := TempPath(target)
	if err := copyFile(source, tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy %s: %w", source, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(source)
}

// MoveFileNoReplace moves source to target unless target already exists,
// in which case the error wraps fs.ErrExist and source is left in place.
// Concurrent callers racing for the same target get exactly one winner.
func (s *Storage) MoveFileNoReplace(source, target string) error {
	start := time.Now()
	err := s.moveFileNoReplace(source, target)
	s.observeOp(target, "move", start, err)
	return err
}

func (s *Storage) moveFileNoReplace(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	// the empty placeholder claims the name; the move then replaces it
	placeholder, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if err := placeholder.Close(); err != nil {
		_ = os.Remove(target)
		return err
	}
	if err := s.moveFile(source, target); err != nil {
		_ = os.Remove(target)
		return err
	}
	return nil
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Unlink removes a file. A file that is already gone is not an error.
func (s *Storage) Unlink(path string) error {
	start := time.Now()
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	s.observeOp(path, "unlink", start, err)
	return err
}

// UnlinkDir removes a directory, recursively when recursive is set.
func (s *Storage) UnlinkDir(path string, recursive bool) error {
	if recursive {
		return os.RemoveAll(path)
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveEmptyDirs deletes every empty directory below root, deepest first.
// root itself is kept.
func (s *Storage) RemoveEmptyDirs(root string) error {
	_, err := removeEmpty(root, false)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func removeEmpty(dir string, removeSelf bool) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}

	empty := true
	for _, e := range entries {
		if !e.IsDir() {
			empty = false
			continue
		}
		removed, err := removeEmpty(filepath.Join(dir, e.Name()), true)
		if err != nil {
			return false, err
		}
		if !removed {
			empty = false
		}
	}

	if empty && removeSelf {
		if err := os.Remove(dir); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// CheckFileExists reports whether path exists.
func (s *Storage) CheckFileExists(path string) bool {
	_, err := StatWithRetry(path, s.retry)
	return err == nil
}

// Stat returns file info with NFS retry.
func (s *Storage) Stat(path string) (os.FileInfo, error) {
	start := time.Now()
	info, err := StatWithRetry(path, s.retry)
	s.observeOp(path, "stat", start, err)
	return info, err
}

// Readdir returns the sorted entry names of a directory.
func (s *Storage) Readdir(path string) ([]string, error) {
	start := time.Now()
	entries, err := os.ReadDir(path)
	s.observeOp(path, "readdir", start, err)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// MkdirAll creates a directory and its parents.
func (s *Storage) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

// Open opens path for reading.
func (s *Storage) Open(path string) (*os.File, error) {
	return OpenWithRetry(path, s.retry)
}

// CreateReadStream opens path for reading. When mimeType is empty the type
// is sniffed from the content.
func (s *Storage) CreateReadStream(path, mimeType string) (*ReadStream, error) {
	f, err := OpenWithRetry(path, s.retry)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if mimeType == "" {
		mt, err := mimetype.DetectReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("detect type of %s: %w", path, err)
		}
		mimeType = mt.String()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &ReadStream{ReadCloser: f, Type: mimeType, Length: info.Size()}, nil
}

// DetectType sniffs the MIME type of a file.
func (s *Storage) DetectType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

// Walk calls fn for every regular file below root, skipping hidden entries.
// It stops early when ctx is cancelled.
func (s *Storage) Walk(ctx context.Context, root string, fn func(path string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("walk %s: %v", path, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path != root && len(d.Name()) > 0 && d.Name()[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(path, info)
	})
}
