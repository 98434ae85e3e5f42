package filesystem

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", config.MaxBackoff)
	}
}

func TestIsNFSStaleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ESTALE error", syscall.ESTALE, true},
		{"wrapped ESTALE", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"ENOENT error", syscall.ENOENT, false},
		{"generic error", os.ErrNotExist, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNFSStaleError(tt.err); got != tt.want {
				t.Errorf("isNFSStaleError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestVolumeResolver_Resolve(t *testing.T) {
	vr := NewVolumeResolver(map[string]string{
		"media":    "/data",
		"thumbs":   "/data/thumbs",
		"database": "/database",
	})

	tests := []struct {
		path string
		want string
	}{
		{"/data/upload/u1/a.jpg", "media"},
		{"/data/thumbs/u1/a.jpeg", "thumbs"},
		{"/data", "media"},
		{"/database/media.db", "database"},
		{"/datastore/x", "unknown"},
		{"/etc/passwd", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := vr.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestVolumeResolver_NilResolver(t *testing.T) {
	var vr *VolumeResolver
	if got := vr.Resolve("/anything"); got != "unknown" {
		t.Errorf("nil resolver returned %q", got)
	}
}

func TestStatWithRetry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := StatWithRetry(path, DefaultRetryConfig())
	if err != nil {
		t.Fatalf("StatWithRetry() error = %v", err)
	}
	if info.Size() != 5 {
		t.Errorf("Size() = %d, want 5", info.Size())
	}

	start := time.Now()
	_, err = StatWithRetry(filepath.Join(dir, "missing"), DefaultRetryConfig())
	if !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Error("non-ESTALE errors should not be retried")
	}
}

func TestWithRetry_StaleThenSuccess(t *testing.T) {
	calls := 0
	config := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	got, err := withRetry("stat", "/x", config, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, syscall.ESTALE
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	config := RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	_, err := withRetry("open", "/x", config, func() (struct{}, error) {
		calls++
		return struct{}{}, syscall.ESTALE
	})
	if err != syscall.ESTALE {
		t.Errorf("error = %v, want ESTALE", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}
