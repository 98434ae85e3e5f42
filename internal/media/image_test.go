package media

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/transcoder"

	"github.com/disintegration/imaging"
)

func newTestRepository() *Repository {
	return NewRepository(transcoder.New("", ""), filesystem.NewStorage(filesystem.DefaultRetryConfig()))
}

func writeTestImage(t *testing.T, dir string, width, height int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, "source.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestFitOutsideScale(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		size          int
		want          float64
	}{
		{"landscape shrinks short side", 400, 200, 100, 0.5},
		{"portrait shrinks short side", 200, 400, 100, 0.5},
		{"smaller than target", 50, 80, 100, 2},
		{"zero size", 100, 100, 0, 1},
		{"empty image", 0, 100, 50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fitOutsideScale(tt.width, tt.height, tt.size); got != tt.want {
				t.Errorf("fitOutsideScale(%d, %d, %d) = %v, want %v", tt.width, tt.height, tt.size, got, tt.want)
			}
		})
	}
}

func TestResizeFallback(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("libvips initialized, fallback path not exercised")
	}
	dir := t.TempDir()
	src := writeTestImage(t, dir, 400, 200)
	repo := newTestRepository()

	tests := []struct {
		name       string
		size       int
		wantWidth  int
		wantHeight int
	}{
		{"downscale", 100, 200, 100},
		{"never enlarge", 1000, 400, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, "thumbs", tt.name+".jpeg")
			err := repo.Resize(context.Background(), src, out, ResizeOptions{Size: tt.size, Format: FormatJPEG, Colorspace: ColorspaceSRGB, Quality: 80})
			if err != nil {
				t.Fatalf("Resize() error = %v", err)
			}
			w, h := decodeSize(t, out)
			if w != tt.wantWidth || h != tt.wantHeight {
				t.Errorf("output = %dx%d, want %dx%d", w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

func TestResizeFallbackRejectsWebP(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("libvips initialized, fallback path not exercised")
	}
	dir := t.TempDir()
	src := writeTestImage(t, dir, 64, 64)
	out := filepath.Join(dir, "thumb.webp")

	err := newTestRepository().Resize(context.Background(), src, out, ResizeOptions{Size: 32, Format: FormatWebP})
	if err == nil {
		t.Fatal("expected error for webp without libvips")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no output should be written on failure")
	}
}

func TestCrop(t *testing.T) {
	if IsVipsAvailable() {
		t.Skip("libvips initialized, fallback path not exercised")
	}
	dir := t.TempDir()
	src := writeTestImage(t, dir, 300, 300)
	out := filepath.Join(dir, "face.jpeg")

	crop := CropOptions{Left: 50, Top: 50, Width: 200, Height: 200}
	if err := newTestRepository().Crop(context.Background(), src, out, crop, ResizeOptions{Size: 100, Format: FormatJPEG}); err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	if w, h := decodeSize(t, out); w != 100 || h != 100 {
		t.Errorf("output = %dx%d, want 100x100", w, h)
	}

	if err := newTestRepository().Crop(context.Background(), src, out, CropOptions{Width: 0, Height: 10}, ResizeOptions{Size: 10}); err == nil {
		t.Error("expected error for empty crop region")
	}
}

func TestGenerateThumbhash(t *testing.T) {
	dir := t.TempDir()
	src := writeTestImage(t, dir, 320, 240)
	repo := newTestRepository()

	hash, err := repo.GenerateThumbhash(context.Background(), src)
	if err != nil {
		t.Fatalf("GenerateThumbhash() error = %v", err)
	}
	if len(hash) < 5 {
		t.Errorf("thumbhash too short: %d bytes", len(hash))
	}

	if _, err := repo.GenerateThumbhash(context.Background(), filepath.Join(dir, "missing.jpeg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := newTestRepository()
	if err := repo.Resize(ctx, "in", "out", ResizeOptions{Size: 10}); err == nil {
		t.Error("Resize should fail on canceled context")
	}
	if _, err := repo.GenerateThumbhash(ctx, "in"); err == nil {
		t.Error("GenerateThumbhash should fail on canceled context")
	}
}
