package processor

import (
	"context"
	"math"

	"media-pipeline/internal/database"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/machinelearning"
	"media-pipeline/internal/sysconfig"
)

// mlFeature names one machine learning job family.
type mlFeature string

const (
	featureClassification mlFeature = "classification"
	featureClip           mlFeature = "clip"
	featureFaces          mlFeature = "facial recognition"
)

// machineLearning returns the ML settings, or a skip when the feature is
// turned off.
func (s *Service) machineLearning(ctx context.Context, feature mlFeature) (sysconfig.MachineLearningConfig, error) {
	cfg, err := s.getConfig(ctx)
	if err != nil {
		return sysconfig.MachineLearningConfig{}, err
	}
	ml := cfg.MachineLearning
	enabled := ml.Enabled && s.ml != nil
	switch feature {
	case featureClassification:
		enabled = enabled && ml.Classification.Enabled
	case featureClip:
		enabled = enabled && ml.Clip.Enabled
	case featureFaces:
		enabled = enabled && ml.FacialRecognition.Enabled
	}
	if !enabled {
		return ml, jobs.Skip("%s is disabled", feature)
	}
	return ml, nil
}

// thumbnailAsset loads an asset that already has its jpeg thumbnail, which
// is what the ML service analyzes.
func (s *Service) thumbnailAsset(ctx context.Context, id string) (*database.Asset, error) {
	asset, err := s.getAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.ResizePath == "" {
		return nil, jobs.Skip("asset %s has no jpeg thumbnail", asset.ID)
	}
	return asset, nil
}

func (s *Service) handleQueueObjectTagging(ctx context.Context, job jobs.QueueAllObjectTagging) error {
	if _, err := s.machineLearning(ctx, featureClassification); err != nil {
		return err
	}
	fetch := s.assetsWithout(database.WithoutObjectTags)
	if job.Force {
		fetch = s.allAssets("")
	}
	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.ClassifyImage{ID: a.ID}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued %d object tagging jobs", queued)
	return nil
}

func (s *Service) handleClassifyImage(ctx context.Context, job jobs.ClassifyImage) error {
	ml, err := s.machineLearning(ctx, featureClassification)
	if err != nil {
		return err
	}
	asset, err := s.thumbnailAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	tags, err := s.ml.ClassifyImage(ctx, ml.URL, asset.ResizePath, machinelearning.ModelConfig{
		ModelName: ml.Classification.ModelName,
		MinScore:  ml.Classification.MinScore,
	})
	if err != nil {
		return err
	}
	return s.smartInfo.UpsertSmartTags(ctx, asset.ID, tags)
}

func (s *Service) handleQueueClipEncode(ctx context.Context, job jobs.QueueAllClipEncode) error {
	if _, err := s.machineLearning(ctx, featureClip); err != nil {
		return err
	}
	fetch := s.assetsWithout(database.WithoutClipEncoding)
	if job.Force {
		fetch = s.allAssets("")
	}
	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.ClipEncode{ID: a.ID}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued %d clip encodings", queued)
	return nil
}

func (s *Service) handleClipEncode(ctx context.Context, job jobs.ClipEncode) error {
	ml, err := s.machineLearning(ctx, featureClip)
	if err != nil {
		return err
	}
	asset, err := s.thumbnailAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	embedding, err := s.ml.EncodeImage(ctx, ml.URL, asset.ResizePath, machinelearning.ModelConfig{
		ModelName: ml.Clip.ModelName,
	})
	if err != nil {
		return err
	}
	return s.smartInfo.UpsertClipEmbedding(ctx, asset.ID, embedding)
}

func (s *Service) handleQueueRecognizeFaces(ctx context.Context, job jobs.QueueAllRecognizeFaces) error {
	if _, err := s.machineLearning(ctx, featureFaces); err != nil {
		return err
	}
	fetch := s.assetsWithout(database.WithoutFaces)
	if job.Force {
		fetch = s.allAssets("")
	}
	queued, err := s.queueAssets(ctx, fetch, func(a *database.Asset) []jobs.Job {
		return []jobs.Job{jobs.RecognizeFaces{ID: a.ID}}
	})
	if err != nil {
		return err
	}
	logging.Info("Queued %d face recognition jobs", queued)
	return nil
}

// handleRecognizeFaces links every detected face to the closest known
// person of the owner, creating a person when none is within MaxDistance.
func (s *Service) handleRecognizeFaces(ctx context.Context, job jobs.RecognizeFaces) error {
	ml, err := s.machineLearning(ctx, featureFaces)
	if err != nil {
		return err
	}
	asset, err := s.thumbnailAsset(ctx, job.ID)
	if err != nil {
		return err
	}
	detected, err := s.ml.DetectFaces(ctx, ml.URL, asset.ResizePath, machinelearning.ModelConfig{
		ModelName: ml.FacialRecognition.ModelName,
		MinScore:  ml.FacialRecognition.MinScore,
	})
	if err != nil {
		return err
	}

	var known []*database.AssetFace
	if len(detected) > 0 {
		if known, err = s.people.GetFacesByOwner(ctx, asset.OwnerID); err != nil {
			return err
		}
	}

	var created []jobs.Job
	for _, face := range detected {
		personID := closestPerson(known, face.Embedding, ml.FacialRecognition.MaxDistance)
		if personID == "" {
			person := &database.Person{ID: s.newID(), OwnerID: asset.OwnerID, FaceAssetID: asset.ID}
			if err := s.people.CreatePerson(ctx, person); err != nil {
				return err
			}
			personID = person.ID
			created = append(created, jobs.GeneratePersonThumbnail{ID: person.ID})
		}

		err := s.people.CreateFace(ctx, &database.AssetFace{
			AssetID:     asset.ID,
			PersonID:    personID,
			Embedding:   face.Embedding,
			ImageWidth:  face.ImageWidth,
			ImageHeight: face.ImageHeight,
			X1:          face.BoundingBox.X1,
			Y1:          face.BoundingBox.Y1,
			X2:          face.BoundingBox.X2,
			Y2:          face.BoundingBox.Y2,
		})
		if err != nil {
			return err
		}
	}

	if len(created) > 0 {
		logging.Info("Found %d new people in asset %s", len(created), asset.ID)
		if err := s.jobs.QueueAll(ctx, created...); err != nil {
			return err
		}
	}
	return s.assets.MarkFacesRecognized(ctx, asset.ID, s.now())
}

// closestPerson returns the person whose face embedding has the smallest
// cosine distance to embedding, if that distance is at most maxDistance.
func closestPerson(faces []*database.AssetFace, embedding []float32, maxDistance float64) string {
	best, bestDistance := "", math.Inf(1)
	for _, f := range faces {
		d := cosineDistance(f.Embedding, embedding)
		if d < bestDistance {
			best, bestDistance = f.PersonID, d
		}
	}
	if bestDistance > maxDistance {
		return ""
	}
	return best
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return math.Inf(1)
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// handlePersonCleanup deletes people left without faces. One failing
// person does not stop the others.
func (s *Service) handlePersonCleanup(ctx context.Context, _ jobs.PersonCleanup) error {
	people, err := s.people.GetPersonsWithoutFaces(ctx)
	if err != nil {
		return err
	}

	var files []string
	deleted := 0
	for _, p := range people {
		if err := s.people.DeletePerson(ctx, p.ID); err != nil {
			logging.Warn("Unable to delete person %s: %v", p.ID, err)
			continue
		}
		deleted++
		if p.ThumbnailPath != "" {
			files = append(files, p.ThumbnailPath)
		}
	}
	if len(files) > 0 {
		if err := s.jobs.Queue(ctx, jobs.DeleteFiles{Files: files}); err != nil {
			return err
		}
	}
	logging.Info("Deleted %d people without faces", deleted)
	return nil
}
