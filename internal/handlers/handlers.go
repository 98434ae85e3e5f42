package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/library"
	"media-pipeline/internal/processor"
	"media-pipeline/internal/sysconfig"

	"github.com/gorilla/mux"
)

// Processor is the part of the processing service the API drives.
type Processor interface {
	Upload(ctx context.Context, req processor.UploadRequest) (*processor.UploadResult, error)
	Delete(ctx context.Context, ids []string) []processor.DeleteResult
	HandleCommand(ctx context.Context, queue jobs.QueueName, cmd processor.JobCommand) (jobs.QueueStatus, error)
	AllJobsStatus(ctx context.Context) (map[jobs.QueueName]jobs.QueueStatus, error)
}

// ConfigService reads and writes the system config.
type ConfigService interface {
	GetConfig(ctx context.Context) (sysconfig.SystemConfig, error)
	GetDefaults() sysconfig.SystemConfig
	UpdateConfig(ctx context.Context, cfg sysconfig.SystemConfig) (sysconfig.SystemConfig, error)
}

// Assets looks up assets for thumbnail requests.
type Assets interface {
	GetAsset(ctx context.Context, id string) (*database.Asset, error)
}

// Pinger checks that the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LibraryStatus reports the external library watcher, when one runs.
type LibraryStatus interface {
	Status() library.Status
}

// Deps are the collaborators of the handlers. Library may be nil.
type Deps struct {
	Processor Processor
	Config    ConfigService
	Assets    Assets
	DB        Pinger
	Storage   *filesystem.Storage
	Library   LibraryStatus
	// MaxUploadBytes bounds multipart uploads; 0 means 4 GiB.
	MaxUploadBytes int64
}

// Handlers serves the admin API.
type Handlers struct {
	processor Processor
	config    ConfigService
	assets    Assets
	db        Pinger
	storage   *filesystem.Storage
	library   LibraryStatus
	maxUpload int64

	ready     atomic.Bool
	startTime time.Time
}

// New creates the handlers. The service reports not ready until SetReady.
func New(d Deps) *Handlers {
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 4 << 30
	}
	storage := d.Storage
	if storage == nil {
		storage = filesystem.NewStorage(filesystem.DefaultRetryConfig())
	}
	return &Handlers{
		processor: d.Processor,
		config:    d.Config,
		assets:    d.Assets,
		db:        d.DB,
		storage:   storage,
		library:   d.Library,
		maxUpload: maxUpload,
		startTime: time.Now(),
	}
}

// SetReady marks startup as finished.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Router builds the admin API routes.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", h.GetJobs).Methods(http.MethodGet).Name("getJobs")
	api.HandleFunc("/jobs/{queue}", h.SendJobCommand).Methods(http.MethodPut).Name("sendJobCommand")
	api.HandleFunc("/system-config", h.GetSystemConfig).Methods(http.MethodGet).Name("getSystemConfig")
	api.HandleFunc("/system-config", h.UpdateSystemConfig).Methods(http.MethodPut).Name("updateSystemConfig")
	api.HandleFunc("/system-config/defaults", h.GetSystemConfigDefaults).Methods(http.MethodGet).Name("getSystemConfigDefaults")
	api.HandleFunc("/assets", h.UploadAsset).Methods(http.MethodPost).Name("uploadAsset")
	api.HandleFunc("/assets", h.DeleteAssets).Methods(http.MethodDelete).Name("deleteAssets")
	api.HandleFunc("/assets/{id}/thumbnail", h.GetThumbnail).Methods(http.MethodGet).Name("getThumbnail")

	return r
}
