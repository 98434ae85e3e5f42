package processor

import (
	"context"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// templatePath is where the default template puts an asset created by
// harness.addAsset.
func templatePath(h *harness, id, ext string) string {
	return filepath.Join(h.root, "upload", "user1", "2023", "2023-07-14", id+ext)
}

func sha1Sum(content string) []byte {
	sum := sha1.Sum([]byte(content))
	return sum[:]
}

func TestStorageTemplateMigrationMovesOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.addAsset(t, "asset1", database.AssetTypeImage).OriginalPath

	job := jobs.StorageTemplateMigration{ID: "asset1"}
	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, job))

	want := templatePath(h, "asset1", ".jpg")
	got := h.asset(t, "asset1")
	assert.Equal(t, want, got.OriginalPath)
	assert.NoFileExists(t, old)
	content, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "original asset1", string(content))

	// a second run finds the original in place
	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, job))
	assert.Equal(t, got, h.asset(t, "asset1"))
}

func TestStorageTemplateMigrationFollowsTemplateChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "asset1", database.AssetTypeImage)
	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))

	h.config.cfg.StorageTemplate.Template = "{{y}}/{{MMM}}/{{filename}}"
	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))

	want := filepath.Join(h.root, "upload", "user1", "2023", "Jul", "asset1.jpg")
	assert.Equal(t, want, h.asset(t, "asset1").OriginalPath)
	assert.FileExists(t, want)
	assert.NoFileExists(t, templatePath(h, "asset1", ".jpg"))
}

func TestStorageTemplateMigrationAvoidsTakenName(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "asset1", database.AssetTypeImage)
	taken := templatePath(h, "asset1", ".jpg")
	writeFile(t, taken, "someone else")

	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))

	want := storage.Suffixed(taken, 1)
	assert.Equal(t, want, h.asset(t, "asset1").OriginalPath)
	content, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "someone else", string(content))
	content, err = os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "original asset1", string(content))
}

func TestStorageTemplateMigrationKeepsNumberedVariant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addAsset(t, "asset1", database.AssetTypeImage)
	variant := storage.Suffixed(templatePath(h, "asset1", ".jpg"), 2)
	writeFile(t, variant, "original asset1")
	require.NoError(t, h.db.SaveAsset(ctx, "asset1", database.AssetUpdate{OriginalPath: &variant}))

	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))

	assert.Equal(t, variant, h.asset(t, "asset1").OriginalPath)
	assert.FileExists(t, variant)
	assert.NoFileExists(t, templatePath(h, "asset1", ".jpg"))
}

func TestStorageTemplateMigrationAfterInterruptedMove(t *testing.T) {
	tests := []struct {
		name   string
		atN    int
		others []string
	}{
		{"at target", 0, nil},
		{"at numbered variant", 1, []string{"someone else"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			old := h.addAsset(t, "asset1", database.AssetTypeImage).OriginalPath
			checksum := sha1Sum("original asset1")
			require.NoError(t, h.db.SaveAsset(ctx, "asset1", database.AssetUpdate{Checksum: checksum}))

			// the file was moved but the row was not updated
			target := templatePath(h, "asset1", ".jpg")
			for i, content := range tt.others {
				writeFile(t, storage.Suffixed(target, i), content)
			}
			moved := storage.Suffixed(target, tt.atN)
			require.NoError(t, os.MkdirAll(filepath.Dir(moved), 0o755))
			require.NoError(t, os.Rename(old, moved))

			require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))
			assert.Equal(t, moved, h.asset(t, "asset1").OriginalPath)
			assert.NoFileExists(t, storage.Suffixed(target, tt.atN+1))
		})
	}
}

func TestStorageTemplateMigrationKeepsMissingOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.addAsset(t, "asset1", database.AssetTypeImage).OriginalPath
	require.NoError(t, os.Remove(old))
	// a file at the target with other content is not mistaken for the original
	writeFile(t, templatePath(h, "asset1", ".jpg"), "someone else")

	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))
	assert.Equal(t, old, h.asset(t, "asset1").OriginalPath)
}

func TestStorageTemplateMigrationMovesSidecar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.addAsset(t, "asset1", database.AssetTypeImage).OriginalPath
	sidecar := old + ".xmp"
	writeFile(t, sidecar, "<xmp/>")
	require.NoError(t, h.db.SaveAsset(ctx, "asset1", database.AssetUpdate{SidecarPath: &sidecar}))

	require.NoError(t, h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "asset1"}))

	got := h.asset(t, "asset1")
	assert.Equal(t, templatePath(h, "asset1", ".jpg"), got.OriginalPath)
	assert.Equal(t, got.OriginalPath+".xmp", got.SidecarPath)
	assert.FileExists(t, got.SidecarPath)
	assert.NoFileExists(t, sidecar)
}

func TestStorageTemplateMigrationSkipsExternal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	external := filepath.Join(t.TempDir(), "library", "ext.jpg")
	writeFile(t, external, "external")
	created := time.Date(2023, 7, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, h.db.CreateAsset(ctx, &database.Asset{
		ID:               "ext1",
		OwnerID:          "user1",
		Type:             database.AssetTypeImage,
		MimeType:         "image/jpeg",
		OriginalPath:     external,
		OriginalFileName: "ext.jpg",
		Checksum:         []byte("ext1"),
		IsExternal:       true,
		FileCreatedAt:    created,
		FileModifiedAt:   created,
	}))
	h.addAsset(t, "asset1", database.AssetTypeImage)

	err := h.svc.handleStorageTemplateMigration(ctx, jobs.StorageTemplateMigration{ID: "ext1"})
	assert.ErrorIs(t, err, jobs.ErrSkipped)
	assert.Equal(t, external, h.asset(t, "ext1").OriginalPath)
	assert.FileExists(t, external)

	require.NoError(t, h.svc.handleQueueStorageTemplateMigration(ctx, jobs.QueueAllStorageTemplateMigration{}))
	assert.Equal(t, []jobs.Job{jobs.StorageTemplateMigration{ID: "asset1"}}, h.queue.take())
}
