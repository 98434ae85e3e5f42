package processor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"

	"media-pipeline/internal/database"
	"media-pipeline/internal/geocoding"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/machinelearning"
	"media-pipeline/internal/media"
	"media-pipeline/internal/paging"
	"media-pipeline/internal/storage"
	"media-pipeline/internal/sysconfig"
	"media-pipeline/internal/transcoder"
)

// AssetRepository persists assets and their extracted metadata.
type AssetRepository interface {
	GetAsset(ctx context.Context, id string) (*database.Asset, error)
	GetAssetByChecksum(ctx context.Context, ownerID string, checksum []byte) (*database.Asset, error)
	GetAssetByOriginalPath(ctx context.Context, ownerID, path string) (*database.Asset, error)
	GetAssets(ctx context.Context, p paging.Pagination, assetType database.AssetType) (paging.Page[*database.Asset], error)
	GetAssetsWithout(ctx context.Context, p paging.Pagination, property database.WithoutProperty) (paging.Page[*database.Asset], error)
	CreateAsset(ctx context.Context, a *database.Asset) error
	SaveAsset(ctx context.Context, id string, u database.AssetUpdate) error
	DeleteAsset(ctx context.Context, id string) (*database.Asset, error)
	MarkMetadataExtracted(ctx context.Context, id string, at time.Time) error
	MarkFacesRecognized(ctx context.Context, id string, at time.Time) error
	UpsertExif(ctx context.Context, e *database.ExifInfo) error
	GetExif(ctx context.Context, assetID string) (*database.ExifInfo, error)
}

// PersonRepository persists people and the faces linking them to assets.
type PersonRepository interface {
	CreatePerson(ctx context.Context, p *database.Person) error
	GetPerson(ctx context.Context, id string) (*database.Person, error)
	UpdatePerson(ctx context.Context, id string, u database.PersonUpdate) error
	DeletePerson(ctx context.Context, id string) error
	GetPersons(ctx context.Context, p paging.Pagination) (paging.Page[*database.Person], error)
	GetPersonsWithoutThumbnail(ctx context.Context, p paging.Pagination) (paging.Page[*database.Person], error)
	GetPersonsWithoutFaces(ctx context.Context) ([]*database.Person, error)
	CreateFace(ctx context.Context, f *database.AssetFace) error
	GetFacesByOwner(ctx context.Context, ownerID string) ([]*database.AssetFace, error)
	GetRandomFace(ctx context.Context, personID string) (*database.AssetFace, error)
	GetFace(ctx context.Context, assetID, personID string) (*database.AssetFace, error)
}

// SmartInfoRepository stores machine learning results.
type SmartInfoRepository interface {
	UpsertSmartTags(ctx context.Context, assetID string, tags []string) error
	UpsertClipEmbedding(ctx context.Context, assetID string, embedding []float32) error
}

// MediaRepository probes, transcodes and resizes media files.
type MediaRepository interface {
	Probe(ctx context.Context, path string) (*transcoder.ProbeResult, error)
	Transcode(ctx context.Context, input, output string, opts transcoder.Options) error
	Resize(ctx context.Context, input, output string, opts media.ResizeOptions) error
	Crop(ctx context.Context, input, output string, crop media.CropOptions, opts media.ResizeOptions) error
	GenerateThumbhash(ctx context.Context, path string) ([]byte, error)
}

// StorageRepository is the filesystem as seen by the processors.
type StorageRepository interface {
	Open(path string) (*os.File, error)
	CreateFile(path string) (*os.File, error)
	MoveFile(source, target string) error
	MoveFileNoReplace(source, target string) error
	Unlink(path string) error
	RemoveEmptyDirs(root string) error
	CheckFileExists(path string) bool
	Stat(path string) (os.FileInfo, error)
	Readdir(path string) ([]string, error)
	MkdirAll(path string) error
	DetectType(path string) (string, error)
	Walk(ctx context.Context, root string, fn func(path string, info fs.FileInfo) error) error
}

// JobQueue accepts follow-up jobs and reports queue state.
type JobQueue interface {
	Queue(ctx context.Context, job jobs.Job) error
	QueueAll(ctx context.Context, batch ...jobs.Job) error
	GetJobCounts(ctx context.Context, name jobs.QueueName) (jobs.QueueStatus, error)
	IsActive(ctx context.Context, name jobs.QueueName) (bool, error)
	Empty(ctx context.Context, name jobs.QueueName) (int64, error)
	Pause(ctx context.Context, name jobs.QueueName) error
	Resume(ctx context.Context, name jobs.QueueName) error
}

// ConfigProvider hands out system configuration snapshots.
type ConfigProvider interface {
	GetConfig(ctx context.Context) (sysconfig.SystemConfig, error)
	Refresh(ctx context.Context) (bool, error)
}

// Geocoder resolves coordinates to place names.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (*geocoding.Place, error)
}

// MLClient calls the machine learning service.
type MLClient interface {
	ClassifyImage(ctx context.Context, baseURL, imagePath string, model machinelearning.ModelConfig) ([]string, error)
	EncodeImage(ctx context.Context, baseURL, imagePath string, model machinelearning.ModelConfig) ([]float32, error)
	DetectFaces(ctx context.Context, baseURL, imagePath string, model machinelearning.ModelConfig) ([]machinelearning.DetectedFace, error)
}

// Library is an external directory imported in place for one owner.
type Library struct {
	OwnerID string `json:"ownerId"`
	Path    string `json:"path"`
}

// Deps are the collaborators of a Service. Geocoder and ML may be nil, which
// disables reverse geocoding and machine learning jobs.
type Deps struct {
	Assets    AssetRepository
	People    PersonRepository
	SmartInfo SmartInfoRepository
	Media     MediaRepository
	Storage   StorageRepository
	Jobs      JobQueue
	Config    ConfigProvider
	Geocoder  Geocoder
	ML        MLClient

	// MediaLocation is the root of uploads and derived files.
	MediaLocation string
	// DeviceDir holds the hardware acceleration device nodes.
	DeviceDir string
	Libraries []Library
}

// Service runs the media processing jobs.
type Service struct {
	assets    AssetRepository
	people    PersonRepository
	smartInfo SmartInfoRepository
	media     MediaRepository
	storage   StorageRepository
	jobs      JobQueue
	config    ConfigProvider
	geocoder  Geocoder
	ml        MLClient

	mediaLocation string
	deviceDir     string
	libraries     []Library
	now           func() time.Time
	newID         func() string
}

// New creates a Service.
func New(d Deps) *Service {
	deviceDir := d.DeviceDir
	if deviceDir == "" {
		deviceDir = "/dev/dri"
	}
	return &Service{
		assets:        d.Assets,
		people:        d.People,
		smartInfo:     d.SmartInfo,
		media:         d.Media,
		storage:       d.Storage,
		jobs:          d.Jobs,
		config:        d.Config,
		geocoder:      d.Geocoder,
		ml:            d.ML,
		mediaLocation: d.MediaLocation,
		deviceDir:     deviceDir,
		libraries:     d.Libraries,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
	}
}

// Register installs a handler for every job name.
func (s *Service) Register(r *jobs.Registry) {
	jobs.Handle(r, s.handleQueueThumbnails)
	jobs.Handle(r, s.handleGenerateJPEG)
	jobs.Handle(r, s.handleGenerateWEBP)
	jobs.Handle(r, s.handleGenerateThumbhash)
	jobs.Handle(r, s.handleGeneratePersonThumbnail)

	jobs.Handle(r, s.handleQueueVideoConversion)
	jobs.Handle(r, s.handleVideoConversion)

	jobs.Handle(r, s.handleQueueMetadataExtraction)
	jobs.Handle(r, s.handleMetadataExtraction)

	jobs.Handle(r, s.handleQueueMigration)
	jobs.Handle(r, s.handleMigrateAsset)
	jobs.Handle(r, s.handleMigratePerson)
	jobs.Handle(r, s.handleQueueStorageTemplateMigration)
	jobs.Handle(r, s.handleStorageTemplateMigration)

	jobs.Handle(r, s.handleQueueObjectTagging)
	jobs.Handle(r, s.handleClassifyImage)
	jobs.Handle(r, s.handleQueueClipEncode)
	jobs.Handle(r, s.handleClipEncode)
	jobs.Handle(r, s.handleQueueRecognizeFaces)
	jobs.Handle(r, s.handleRecognizeFaces)

	jobs.Handle(r, s.handleQueueSidecar)
	jobs.Handle(r, s.handleSidecarDiscovery)
	jobs.Handle(r, s.handleSidecarSync)

	jobs.Handle(r, s.handleLibraryRefresh)
	jobs.Handle(r, s.handleLibraryRefreshAsset)

	jobs.Handle(r, s.handleDeleteFiles)
	jobs.Handle(r, s.handlePersonCleanup)
	jobs.Handle(r, s.handleSystemConfigChange)
}

func (s *Service) getConfig(ctx context.Context) (sysconfig.SystemConfig, error) {
	cfg, err := s.config.GetConfig(ctx)
	if err != nil {
		return sysconfig.SystemConfig{}, fmt.Errorf("load system config: %w", err)
	}
	return cfg, nil
}

func (s *Service) resolver(cfg sysconfig.SystemConfig) storage.Resolver {
	return storage.NewResolver(s.mediaLocation, cfg.StorageTemplate.DerivedLayout)
}

// getAsset turns a vanished asset into a skip.
func (s *Service) getAsset(ctx context.Context, id string) (*database.Asset, error) {
	asset, err := s.assets.GetAsset(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, jobs.Skip("asset %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", id, err)
	}
	return asset, nil
}

// saveAsset treats an asset deleted while its job ran as a skip.
func (s *Service) saveAsset(ctx context.Context, id string, u database.AssetUpdate) error {
	err := s.assets.SaveAsset(ctx, id, u)
	if errors.Is(err, database.ErrNotFound) {
		return jobs.Skip("asset %s was deleted", id)
	}
	return err
}

func (s *Service) getPerson(ctx context.Context, id string) (*database.Person, error) {
	person, err := s.people.GetPerson(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, jobs.Skip("person %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load person %s: %w", id, err)
	}
	return person, nil
}

func (s *Service) allAssets(assetType database.AssetType) paging.FetchFunc[*database.Asset] {
	return func(ctx context.Context, p paging.Pagination) (paging.Page[*database.Asset], error) {
		return s.assets.GetAssets(ctx, p, assetType)
	}
}

func (s *Service) assetsWithout(property database.WithoutProperty) paging.FetchFunc[*database.Asset] {
	return func(ctx context.Context, p paging.Pagination) (paging.Page[*database.Asset], error) {
		return s.assets.GetAssetsWithout(ctx, p, property)
	}
}

// queueAssets pages over fetch and queues the jobs build returns for each
// asset, one batch per page. It returns the number of jobs queued.
func (s *Service) queueAssets(ctx context.Context, fetch paging.FetchFunc[*database.Asset], build func(*database.Asset) []jobs.Job) (int, error) {
	queued := 0
	for assets, err := range paging.Pages(ctx, paging.JobsAssetPaginationSize, fetch) {
		if err != nil {
			return queued, err
		}
		batch := make([]jobs.Job, 0, len(assets))
		for _, asset := range assets {
			batch = append(batch, build(asset)...)
		}
		if len(batch) == 0 {
			continue
		}
		if err := s.jobs.QueueAll(ctx, batch...); err != nil {
			return queued, fmt.Errorf("queue jobs: %w", err)
		}
		queued += len(batch)
	}
	return queued, nil
}

func (s *Service) forEachPerson(ctx context.Context, fetch paging.FetchFunc[*database.Person], fn func(*database.Person) error) error {
	for people, err := range paging.Pages(ctx, paging.JobsAssetPaginationSize, fetch) {
		if err != nil {
			return err
		}
		for _, person := range people {
			if err := fn(person); err != nil {
				return err
			}
		}
	}
	return nil
}

// unlinkQuietly removes a leftover file, logging failures.
func (s *Service) unlinkQuietly(path string) {
	if path == "" {
		return
	}
	if err := s.storage.Unlink(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Warn("Unable to remove %s: %v", path, err)
	}
}

func (s *Service) handleSystemConfigChange(ctx context.Context, _ jobs.SystemConfigChange) error {
	changed, err := s.config.Refresh(ctx)
	if err != nil {
		return err
	}
	if changed {
		logging.Info("System config reloaded")
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
