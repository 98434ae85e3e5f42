package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/machinelearning"
	"media-pipeline/internal/paging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withThumbnail adds an asset that already has its jpeg thumbnail.
func (h *harness) withThumbnail(t *testing.T, id string) string {
	t.Helper()
	h.addAsset(t, id, database.AssetTypeImage)
	resize := filepath.Join(h.root, "thumbs", "user1", id+".jpeg")
	writeFile(t, resize, "jpeg")
	require.NoError(t, h.db.SaveAsset(context.Background(), id, database.AssetUpdate{ResizePath: &resize}))
	return resize
}

func TestClassifyImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resize := h.withThumbnail(t, "asset1")
	h.ml.tags = []string{"cat", "sofa"}

	require.NoError(t, h.svc.handleClassifyImage(ctx, jobs.ClassifyImage{ID: "asset1"}))
	assert.Equal(t, []string{"classify:" + resize}, h.ml.calls)

	info, err := h.db.GetSmartInfo(ctx, "asset1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "sofa"}, info.Tags)
}

func TestClipEncode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.withThumbnail(t, "asset1")
	h.ml.embedding = []float32{0.1, 0.2, 0.3}

	require.NoError(t, h.svc.handleClipEncode(ctx, jobs.ClipEncode{ID: "asset1"}))

	info, err := h.db.GetSmartInfo(ctx, "asset1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, info.ClipEmbedding)
}

func TestMachineLearningSkips(t *testing.T) {
	tests := []struct {
		name    string
		disable func(h *harness)
		thumb   bool
	}{
		{
			name:    "machine learning disabled",
			disable: func(h *harness) { h.config.cfg.MachineLearning.Enabled = false },
			thumb:   true,
		},
		{
			name: "features disabled",
			disable: func(h *harness) {
				h.config.cfg.MachineLearning.Classification.Enabled = false
				h.config.cfg.MachineLearning.Clip.Enabled = false
				h.config.cfg.MachineLearning.FacialRecognition.Enabled = false
			},
			thumb: true,
		},
		{
			name:    "no thumbnail yet",
			disable: func(*harness) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			if tt.thumb {
				h.withThumbnail(t, "asset1")
			} else {
				h.addAsset(t, "asset1", database.AssetTypeImage)
			}
			tt.disable(h)

			for _, err := range []error{
				h.svc.handleClassifyImage(ctx, jobs.ClassifyImage{ID: "asset1"}),
				h.svc.handleClipEncode(ctx, jobs.ClipEncode{ID: "asset1"}),
				h.svc.handleRecognizeFaces(ctx, jobs.RecognizeFaces{ID: "asset1"}),
			} {
				assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
			}
			assert.Empty(t, h.ml.calls)
		})
	}
}

func TestQueueObjectTaggingDisabled(t *testing.T) {
	h := newHarness(t)
	h.withThumbnail(t, "asset1")
	h.config.cfg.MachineLearning.Classification.Enabled = false

	err := h.svc.handleQueueObjectTagging(context.Background(), jobs.QueueAllObjectTagging{})
	assert.True(t, errors.Is(err, jobs.ErrSkipped), "got %v", err)
	assert.Empty(t, h.queue.take())
}

func TestQueueMachineLearning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.withThumbnail(t, "ready")
	h.addAsset(t, "pending", database.AssetTypeImage)

	require.NoError(t, h.svc.handleQueueObjectTagging(ctx, jobs.QueueAllObjectTagging{}))
	require.NoError(t, h.svc.handleQueueClipEncode(ctx, jobs.QueueAllClipEncode{}))
	require.NoError(t, h.svc.handleQueueRecognizeFaces(ctx, jobs.QueueAllRecognizeFaces{}))
	assert.Equal(t, []jobs.Job{
		jobs.ClassifyImage{ID: "ready"},
		jobs.ClipEncode{ID: "ready"},
		jobs.RecognizeFaces{ID: "ready"},
	}, h.queue.take())

	require.NoError(t, h.svc.handleQueueRecognizeFaces(ctx, jobs.QueueAllRecognizeFaces{Force: true}))
	assert.ElementsMatch(t, []jobs.Job{
		jobs.RecognizeFaces{ID: "ready"},
		jobs.RecognizeFaces{ID: "pending"},
	}, h.queue.take())
}

func face(embedding ...float32) machinelearning.DetectedFace {
	return machinelearning.DetectedFace{
		ImageWidth:  1000,
		ImageHeight: 800,
		BoundingBox: machinelearning.BoundingBox{X1: 100, Y1: 100, X2: 200, Y2: 220},
		Score:       0.9,
		Embedding:   embedding,
	}
}

func TestRecognizeFaces(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.withThumbnail(t, "asset1")
	h.withThumbnail(t, "asset2")
	n := 0
	h.svc.newID = func() string {
		n++
		return fmt.Sprintf("person%d", n)
	}

	// two strangers
	h.ml.faces = []machinelearning.DetectedFace{face(1, 0, 0), face(0, 1, 0)}
	require.NoError(t, h.svc.handleRecognizeFaces(ctx, jobs.RecognizeFaces{ID: "asset1"}))
	assert.Equal(t, []jobs.Job{
		jobs.GeneratePersonThumbnail{ID: "person1"},
		jobs.GeneratePersonThumbnail{ID: "person2"},
	}, h.queue.take())

	person, err := h.db.GetPerson(ctx, "person1")
	require.NoError(t, err)
	assert.Equal(t, "asset1", person.FaceAssetID)
	assert.Equal(t, "user1", person.OwnerID)

	stored, err := h.db.GetFace(ctx, "asset1", "person2")
	require.NoError(t, err)
	assert.Equal(t, 220, stored.Y2)
	assert.Equal(t, 1000, stored.ImageWidth)

	// the first person again, and someone new
	h.ml.faces = []machinelearning.DetectedFace{face(0.95, 0.05, 0), face(0, 0, 1)}
	require.NoError(t, h.svc.handleRecognizeFaces(ctx, jobs.RecognizeFaces{ID: "asset2"}))
	assert.Equal(t, []jobs.Job{jobs.GeneratePersonThumbnail{ID: "person3"}}, h.queue.take())

	_, err = h.db.GetFace(ctx, "asset2", "person1")
	assert.NoError(t, err)
	_, err = h.db.GetFace(ctx, "asset2", "person3")
	assert.NoError(t, err)

	faces, err := h.db.GetFacesByOwner(ctx, "user1")
	require.NoError(t, err)
	assert.Len(t, faces, 4)
}

func TestRecognizeFacesNoneFound(t *testing.T) {
	h := newHarness(t)
	h.withThumbnail(t, "asset1")

	require.NoError(t, h.svc.handleRecognizeFaces(context.Background(), jobs.RecognizeFaces{ID: "asset1"}))
	assert.Empty(t, h.queue.take())

	page, err := h.db.GetAssetsWithout(context.Background(), paging.Pagination{Take: 10}, database.WithoutFaces)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestRecognizeFacesServiceError(t *testing.T) {
	h := newHarness(t)
	h.withThumbnail(t, "asset1")
	h.ml.err = errors.New("connection refused")

	err := h.svc.handleRecognizeFaces(context.Background(), jobs.RecognizeFaces{ID: "asset1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, jobs.ErrSkipped))
}

func TestClosestPerson(t *testing.T) {
	known := []*database.AssetFace{
		{PersonID: "alice", Embedding: []float32{1, 0}},
		{PersonID: "bob", Embedding: []float32{0, 1}},
	}
	tests := []struct {
		name      string
		embedding []float32
		max       float64
		want      string
	}{
		{"exact", []float32{1, 0}, 0.6, "alice"},
		{"closer to bob", []float32{0.2, 0.9}, 0.6, "bob"},
		{"too far", []float32{1, 1}, 0.2, ""},
		{"wrong length", []float32{1, 0, 0}, 0.6, ""},
		{"zero vector", []float32{0, 0}, 0.6, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, closestPerson(known, tt.embedding, tt.max))
		})
	}
	assert.Equal(t, "", closestPerson(nil, []float32{1, 0}, 0.6))
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 2, cosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.True(t, math.IsInf(cosineDistance(nil, nil), 1))
}

func TestPersonCleanup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.withThumbnail(t, "asset1")

	require.NoError(t, h.db.CreatePerson(ctx, &database.Person{ID: "kept", OwnerID: "user1"}))
	require.NoError(t, h.db.CreateFace(ctx, &database.AssetFace{AssetID: "asset1", PersonID: "kept", Embedding: []float32{1}}))
	require.NoError(t, h.db.CreatePerson(ctx, &database.Person{ID: "orphan", OwnerID: "user1", ThumbnailPath: "/thumbs/user1/orphan.jpeg"}))
	require.NoError(t, h.db.CreatePerson(ctx, &database.Person{ID: "bare", OwnerID: "user1"}))

	require.NoError(t, h.svc.handlePersonCleanup(ctx, jobs.PersonCleanup{}))

	_, err := h.db.GetPerson(ctx, "kept")
	assert.NoError(t, err)
	for _, id := range []string{"orphan", "bare"} {
		_, err := h.db.GetPerson(ctx, id)
		assert.True(t, errors.Is(err, database.ErrNotFound), "%s: %v", id, err)
	}
	assert.Equal(t, []jobs.Job{jobs.DeleteFiles{Files: []string{"/thumbs/user1/orphan.jpeg"}}}, h.queue.take())
}
