package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"media-pipeline/internal/database"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/geocoding"
	"media-pipeline/internal/handlers"
	"media-pipeline/internal/jobs"
	"media-pipeline/internal/library"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/machinelearning"
	"media-pipeline/internal/media"
	"media-pipeline/internal/memory"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/middleware"
	"media-pipeline/internal/processor"
	"media-pipeline/internal/startup"
	"media-pipeline/internal/sysconfig"
	"media-pipeline/internal/transcoder"
	"media-pipeline/internal/workers"
)

const metricsInterval = time.Minute

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig(os.Args[1:])
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	memResult := memory.Configure(config.MemoryLimit, config.MemoryRatio)
	startup.LogMemoryConfig(memResult)
	memConfig := memory.DefaultConfig()
	memConfig.LimitBytes = memResult.GoMemLimit
	memMonitor := memory.NewMonitor(memConfig)
	memMonitor.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	metrics.InitializeMetrics(queueLabels())
	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())
	filesystem.SetObserver(metrics.NewFilesystemObserver())
	fs := filesystem.NewStorage(filesystem.DefaultRetryConfig())

	registry := jobs.NewRegistry()
	manager := jobs.NewManager(db.Jobs(), registry, jobs.Options{
		Attempts:     config.JobAttempts,
		Backoff:      config.JobBackoff,
		PollInterval: config.JobPollInterval,
		WorkerID:     config.WorkerID,
		Lease:        config.JobLease,
		Gate:         memMonitor,
	})

	configCore := sysconfig.New(db, sysconfig.WithQueue(manager), sysconfig.WithConfigFile(config.ConfigFile))
	systemConfig, err := configCore.GetConfig(ctx)
	if err != nil {
		startup.LogFatal("Failed to load system config: %v", err)
	}
	applyConcurrency(manager, systemConfig)

	geocoder := initGeocoding(ctx, db, config)
	if geocoder == nil {
		configCore.AddValidator(requireGeodata)
	}

	if err := media.InitVips(workers.Resolve(config.VipsConcurrency, 1.0, 0)); err != nil {
		logging.Warn("libvips unavailable, falling back to pure Go resizing: %v", err)
	}
	trans := transcoder.New(config.FFmpegPath, config.FFprobePath)
	startup.LogTranscoderInit(config.FFmpegPath)

	var libraries []processor.Library
	if config.LibraryDir != "" {
		libraries = append(libraries, processor.Library{OwnerID: config.LibraryOwner, Path: config.LibraryDir})
	}

	deps := processor.Deps{
		Assets:        db,
		People:        db,
		SmartInfo:     db,
		Media:         media.NewRepository(trans, fs),
		Storage:       fs,
		Jobs:          manager,
		Config:        configCore,
		ML:            machinelearning.NewClient(),
		MediaLocation: config.MediaLocation,
		DeviceDir:     config.DeviceDir,
		Libraries:     libraries,
	}
	// a nil *geocoding.Service must stay a nil interface
	if geocoder != nil {
		deps.Geocoder = geocoder
	}
	svc := processor.New(deps)
	svc.Register(registry)
	if err := registry.Verify(); err != nil {
		startup.LogFatal("Job registry incomplete: %v", err)
	}
	manager.OnComplete(svc.OnDone)

	go followConfig(ctx, configCore, manager)
	go func() {
		if err := configCore.Watch(ctx, config.ConfigPollInterval); err != nil && !errors.Is(err, context.Canceled) {
			logging.Error("System config watch stopped: %v", err)
		}
	}()

	startup.LogWorkersInit(config.WorkersEnabled, concurrencyLabels(manager))
	if config.WorkersEnabled {
		if err := manager.Start(ctx); err != nil {
			startup.LogFatal("Failed to start job workers: %v", err)
		}
	}

	var watcher *library.Watcher
	if config.LibraryDir != "" {
		startup.LogLibraryInit(config.LibraryDir, config.LibraryOwner, config.LibraryScanInterval, config.LibraryWatch)
		watcher = library.New(library.Config{
			Dir:          config.LibraryDir,
			Owner:        config.LibraryOwner,
			ScanInterval: config.LibraryScanInterval,
			Watch:        config.LibraryWatch,
		}, svc, manager, fs)
	}
	libraryDone := make(chan struct{})
	go func() {
		defer close(libraryDone)
		if watcher != nil {
			watcher.Run(ctx)
		}
	}()

	collector := metrics.NewCollector(&statsAdapter{status: manager, assets: db, dbMetrics: db}, metricsInterval)
	collector.Start()

	handlerDeps := handlers.Deps{
		Processor: svc,
		Config:    configCore,
		Assets:    db,
		DB:        db,
		Storage:   fs,
	}
	if watcher != nil {
		handlerDeps.Library = watcher
	}
	h := handlers.New(handlerDeps)
	router := h.Router()
	router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           middleware.Logger(loggingConfig)(router),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = newMetricsServer(config.MetricsPort, h)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		handleShutdown(config.ShutdownTimeout, shutdown{
			cancel:      cancel,
			srv:         srv,
			metricsSrv:  metricsSrv,
			manager:     manager,
			libraryDone: libraryDone,
			collector:   collector,
			memory:      memMonitor,
			trans:       trans,
			db:          db,
		})
	}()

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
}

func queueLabels() []string {
	out := make([]string, 0, len(jobs.AllQueues))
	for _, q := range jobs.AllQueues {
		out = append(out, string(q))
	}
	return out
}

// concurrencySetter is the part of the job manager the config follower
// drives.
type concurrencySetter interface {
	SetConcurrency(name jobs.QueueName, n int)
	Concurrency(name jobs.QueueName) int
}

func applyConcurrency(m concurrencySetter, cfg sysconfig.SystemConfig) {
	for _, q := range jobs.AllQueues {
		if n := cfg.Concurrency(q); n != m.Concurrency(q) {
			m.SetConcurrency(q, n)
		}
	}
}

func concurrencyLabels(m concurrencySetter) map[string]int {
	out := make(map[string]int, len(jobs.AllQueues))
	for _, q := range jobs.AllQueues {
		out[string(q)] = m.Concurrency(q)
	}
	return out
}

// followConfig resizes the worker pools whenever the system config changes.
func followConfig(ctx context.Context, core *sysconfig.Core, m concurrencySetter) {
	updates, unsubscribe := core.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			applyConcurrency(m, cfg)
		}
	}
}

func initGeocoding(ctx context.Context, db *database.Database, config *startup.Config) *geocoding.Service {
	if !config.GeocodingEnabled {
		startup.LogGeocodingInit(false, 0, nil)
		return nil
	}
	start := time.Now()
	geo := geocoding.New(db, config.GeodataDir, filepath.Dir(config.DatabasePath))
	err := geo.Init(ctx)
	startup.LogGeocodingInit(true, time.Since(start), err)
	if err != nil {
		return nil
	}
	return geo
}

// requireGeodata rejects turning reverse geocoding on when no geodata
// was imported at startup.
func requireGeodata(newConfig, oldConfig sysconfig.SystemConfig) error {
	if newConfig.ReverseGeocoding.Enabled && !oldConfig.ReverseGeocoding.Enabled {
		return fmt.Errorf("%w: reverse geocoding needs geodata, set GEODATA_DIR and restart", sysconfig.ErrInvalidConfig)
	}
	return nil
}

func newMetricsServer(port string, h *handlers.Handlers) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h.MetricsHandler())
	mux.HandleFunc("/health", h.LivenessCheck)
	return &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type shutdown struct {
	cancel      context.CancelFunc
	srv         *http.Server
	metricsSrv  *http.Server
	manager     *jobs.Manager
	libraryDone <-chan struct{}
	collector   *metrics.Collector
	memory      *memory.Monitor
	trans       *transcoder.Transcoder
	db          *database.Database
}

func handleShutdown(timeout time.Duration, s shutdown) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(strings.ToUpper(sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Stopping job workers")
	if err := s.manager.Stop(ctx); err != nil {
		logging.Warn("Job workers did not stop cleanly: %v", err)
	} else {
		startup.LogShutdownStepComplete("Job workers stopped")
	}

	s.cancel()
	startup.LogShutdownStep("Stopping library watcher")
	select {
	case <-s.libraryDone:
		startup.LogShutdownStepComplete("Library watcher stopped")
	case <-ctx.Done():
		logging.Warn("Library watcher did not stop in time")
	}

	startup.LogShutdownStep("Cleaning up transcoder")
	s.trans.Cleanup()
	startup.LogShutdownStepComplete("Transcoder cleanup complete")

	s.collector.Stop()
	s.memory.Stop()
	media.ShutdownVips()

	if s.metricsSrv != nil {
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Closing database")
	if err := s.db.Close(); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Database closed")
	}

	startup.LogShutdownComplete()
}
