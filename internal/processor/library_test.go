package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLibrary(t *testing.T) (dir, photo, video string) {
	t.Helper()
	dir = t.TempDir()
	photo = filepath.Join(dir, "2020", "photo.jpg")
	video = filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(photo), 0o755))
	require.NoError(t, os.WriteFile(photo, append(append([]byte{}, jpegHeader...), "library"...), 0o644))
	require.NoError(t, os.WriteFile(video, []byte("video"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("text"), 0o644))
	return dir, photo, video
}

func TestLibraryRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dir, photo, video := newLibrary(t)

	require.NoError(t, h.svc.handleLibraryRefresh(ctx, jobs.LibraryRefresh{OwnerID: "user1", Path: dir}))
	assert.ElementsMatch(t, []jobs.Job{
		jobs.LibraryRefreshAsset{OwnerID: "user1", Path: photo},
		jobs.LibraryRefreshAsset{OwnerID: "user1", Path: video},
	}, h.queue.take())

	h.sequentialIDs()
	require.NoError(t, h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: photo}))
	assert.Equal(t, []jobs.Job{jobs.MetadataExtraction{ID: "upload1", Source: jobs.SourceUpload}}, h.queue.take())

	imported := h.asset(t, "upload1")
	assert.True(t, imported.IsExternal)
	assert.Equal(t, photo, imported.OriginalPath)
	assert.Equal(t, database.AssetTypeImage, imported.Type)
	assert.Equal(t, "Library Import", imported.DeviceID)
	assert.FileExists(t, photo)

	// the imported file is skipped until it changes
	require.NoError(t, h.svc.handleLibraryRefresh(ctx, jobs.LibraryRefresh{OwnerID: "user1", Path: dir}))
	assert.Equal(t, []jobs.Job{jobs.LibraryRefreshAsset{OwnerID: "user1", Path: video}}, h.queue.take())

	require.NoError(t, h.svc.handleLibraryRefresh(ctx, jobs.LibraryRefresh{OwnerID: "user1", Path: dir, Force: true}))
	assert.Len(t, h.queue.take(), 2)
}

func TestLibraryRefreshAssetChanged(t *testing.T) {
	h := newHarness(t)
	h.sequentialIDs()
	ctx := context.Background()
	_, photo, _ := newLibrary(t)

	require.NoError(t, h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: photo}))
	h.queue.take()

	err := h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: photo})
	assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)

	before := h.asset(t, "upload1").Checksum
	require.NoError(t, os.WriteFile(photo, append(append([]byte{}, jpegHeader...), "edited"...), 0o644))
	later := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(photo, later, later))

	require.NoError(t, h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: photo}))
	assert.Equal(t, []jobs.Job{
		jobs.MetadataExtraction{ID: "upload1"},
		jobs.GenerateJPEGThumbnail{ID: "upload1", Force: true},
	}, h.queue.take())

	refreshed := h.asset(t, "upload1")
	assert.NotEqual(t, before, refreshed.Checksum)
	assert.Equal(t, later.Unix(), refreshed.FileModifiedAt.Unix())
}

func TestLibraryRefreshAssetSkips(t *testing.T) {
	h := newHarness(t)
	h.sequentialIDs()
	ctx := context.Background()
	dir, photo, _ := newLibrary(t)

	t.Run("file removed", func(t *testing.T) {
		err := h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: filepath.Join(dir, "gone.jpg")})
		assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
	})

	t.Run("not media", func(t *testing.T) {
		err := h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: filepath.Join(dir, "notes.txt")})
		assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
	})

	t.Run("same content already uploaded", func(t *testing.T) {
		content, err := os.ReadFile(photo)
		require.NoError(t, err)
		_, err = h.svc.Upload(ctx, UploadRequest{OwnerID: "user1", FileName: "copy.jpg", Body: bytes.NewReader(content)})
		require.NoError(t, err)
		h.queue.take()

		copied := filepath.Join(dir, "copy.jpg")
		require.NoError(t, os.WriteFile(copied, content, 0o644))
		err = h.svc.handleLibraryRefreshAsset(ctx, jobs.LibraryRefreshAsset{OwnerID: "user1", Path: copied})
		assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
		assert.Empty(t, h.queue.take())
	})
}
