package startup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"media-pipeline/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds the process configuration. Everything that can change at
// runtime lives in the system config instead.
type Config struct {
	MediaLocation string
	DatabaseDir   string
	GeodataDir    string
	DeviceDir     string
	FFmpegPath    string
	FFprobePath   string

	Port           string
	MetricsPort    string
	MetricsEnabled bool

	ConfigFile         string
	ConfigPollInterval time.Duration

	JobAttempts     int
	JobBackoff      time.Duration
	JobPollInterval time.Duration
	WorkersEnabled  bool
	WorkerID        string
	JobLease        time.Duration

	LibraryDir          string
	LibraryOwner        string
	LibraryScanInterval time.Duration
	LibraryWatch        bool

	LogLevel        string
	LogFormat       string
	LogHealthChecks bool

	MemoryLimit     int64
	MemoryRatio     float64
	VipsConcurrency int
	ShutdownTimeout time.Duration

	// Derived paths
	DatabasePath string

	// GeocodingEnabled is false when no geodata directory is readable.
	GeocodingEnabled bool
}

// setting is one configuration key. The environment variable is the
// upper-cased key, the flag the key with dashes.
type setting struct {
	key   string
	def   any
	usage string
}

var settings = []setting{
	{"media_location", "/data", "root of uploads and derived files"},
	{"database_dir", "/database", "directory holding the SQLite database"},
	{"geodata_dir", "/geodata", "directory with cities500.txt and admin code files"},
	{"device_dir", "/dev/dri", "directory with hardware acceleration device nodes"},
	{"ffmpeg_path", "ffmpeg", "ffmpeg binary"},
	{"ffprobe_path", "ffprobe", "ffprobe binary"},
	{"port", "8080", "admin HTTP port"},
	{"metrics_port", "9090", "Prometheus metrics port"},
	{"metrics_enabled", true, "serve Prometheus metrics"},
	{"config_file", "", "read the system config from this JSON or TOML file"},
	{"config_poll_interval", 10 * time.Second, "how often other instances' config changes are picked up"},
	{"job_attempts", 3, "executions of a job before it is marked failed"},
	{"job_backoff", 5 * time.Second, "delay before the first retry, doubled per attempt"},
	{"job_poll_interval", time.Second, "how often idle queues check the job store"},
	{"workers_enabled", true, "run job workers in this process"},
	{"worker_id", "", "job lease owner name; empty picks hostname, pid and a random suffix"},
	{"job_lease", time.Minute, "how long a claimed job stays reserved without renewal"},
	{"library_dir", "", "external library imported in place"},
	{"library_owner", "", "owner of assets imported from the library"},
	{"library_scan_interval", time.Hour, "full library rescan interval (0 disables)"},
	{"library_watch", true, "queue library files as they change"},
	{"log_level", "", "debug, info, warn or error"},
	{"log_format", "", "console or json"},
	{"log_health_checks", true, "log requests to health endpoints"},
	{"memory_limit", int64(0), "container memory limit in bytes"},
	{"memory_ratio", 0.85, "share of memory_limit given to the Go heap"},
	{"vips_concurrency", 0, "libvips threads (0 = one per CPU)"},
	{"shutdown_timeout", 30 * time.Second, "grace period for in-flight work on shutdown"},
}

func flagName(key string) string {
	b := []byte(key)
	for i, c := range b {
		if c == '_' {
			b[i] = '-'
		}
	}
	return string(b)
}

// newFlagSet registers one flag per setting and binds it to v.
func newFlagSet(name string, v *viper.Viper) (*pflag.FlagSet, *string, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")

	for _, s := range settings {
		n := flagName(s.key)
		switch def := s.def.(type) {
		case string:
			flags.String(n, def, s.usage)
		case bool:
			flags.Bool(n, def, s.usage)
		case int:
			flags.Int(n, def, s.usage)
		case int64:
			flags.Int64(n, def, s.usage)
		case float64:
			flags.Float64(n, def, s.usage)
		case time.Duration:
			flags.Duration(n, def, s.usage)
		default:
			return nil, nil, fmt.Errorf("setting %s has unsupported type %T", s.key, s.def)
		}
		v.SetDefault(s.key, s.def)
		if err := v.BindPFlag(s.key, flags.Lookup(n)); err != nil {
			return nil, nil, fmt.Errorf("bind flag %s: %w", n, err)
		}
	}
	return flags, envFile, nil
}

// LoadConfig reads flags, the dotenv file and the environment, in that
// order of precedence, validates the result and prepares the directories.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()
	flags, envFile, err := newFlagSet("media-pipeline", v)
	if err != nil {
		return nil, err
	}
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// values already in the environment win over the file
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}
	v.AutomaticEnv()

	config := configFrom(v)
	if config.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(config.LogLevel))
	}
	if config.LogFormat != "" {
		logging.SetFormat(config.LogFormat)
	}

	printBanner()
	logSystemInfo()
	logConfig(config)

	if err := config.validate(); err != nil {
		return nil, err
	}
	if err := config.prepareDirectories(); err != nil {
		return nil, err
	}
	return config, nil
}

func configFrom(v *viper.Viper) *Config {
	return &Config{
		MediaLocation:       v.GetString("media_location"),
		DatabaseDir:         v.GetString("database_dir"),
		GeodataDir:          v.GetString("geodata_dir"),
		DeviceDir:           v.GetString("device_dir"),
		FFmpegPath:          v.GetString("ffmpeg_path"),
		FFprobePath:         v.GetString("ffprobe_path"),
		Port:                v.GetString("port"),
		MetricsPort:         v.GetString("metrics_port"),
		MetricsEnabled:      v.GetBool("metrics_enabled"),
		ConfigFile:          v.GetString("config_file"),
		ConfigPollInterval:  v.GetDuration("config_poll_interval"),
		JobAttempts:         v.GetInt("job_attempts"),
		JobBackoff:          v.GetDuration("job_backoff"),
		JobPollInterval:     v.GetDuration("job_poll_interval"),
		WorkersEnabled:      v.GetBool("workers_enabled"),
		WorkerID:            v.GetString("worker_id"),
		JobLease:            v.GetDuration("job_lease"),
		LibraryDir:          v.GetString("library_dir"),
		LibraryOwner:        v.GetString("library_owner"),
		LibraryScanInterval: v.GetDuration("library_scan_interval"),
		LibraryWatch:        v.GetBool("library_watch"),
		LogLevel:            v.GetString("log_level"),
		LogFormat:           v.GetString("log_format"),
		LogHealthChecks:     v.GetBool("log_health_checks"),
		MemoryLimit:         v.GetInt64("memory_limit"),
		MemoryRatio:         v.GetFloat64("memory_ratio"),
		VipsConcurrency:     v.GetInt("vips_concurrency"),
		ShutdownTimeout:     v.GetDuration("shutdown_timeout"),
	}
}

func (c *Config) validate() error {
	var errs []error
	for name, port := range map[string]string{"PORT": c.Port, "METRICS_PORT": c.MetricsPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s %q is not a valid port", name, port))
		}
	}
	if c.MetricsEnabled && c.Port == c.MetricsPort {
		errs = append(errs, fmt.Errorf("PORT and METRICS_PORT must differ"))
	}
	if c.JobAttempts < 1 {
		errs = append(errs, fmt.Errorf("JOB_ATTEMPTS must be at least 1"))
	}
	if c.JobBackoff < 0 || c.JobPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("JOB_BACKOFF and JOB_POLL_INTERVAL must be positive"))
	}
	if c.JobLease < 3*time.Second {
		errs = append(errs, fmt.Errorf("JOB_LEASE must be at least 3s"))
	}
	if c.LibraryDir != "" && c.LibraryOwner == "" {
		errs = append(errs, fmt.Errorf("LIBRARY_OWNER is required with LIBRARY_DIR"))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be console or json", c.LogFormat))
	}
	if c.MemoryRatio <= 0 || c.MemoryRatio > 1 {
		errs = append(errs, fmt.Errorf("MEMORY_RATIO %v must be in (0, 1]", c.MemoryRatio))
	}
	return errors.Join(errs...)
}

func (c *Config) prepareDirectories() error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	if c.MediaLocation, err = filepath.Abs(c.MediaLocation); err != nil {
		return fmt.Errorf("failed to resolve media location: %w", err)
	}
	if c.DatabaseDir, err = filepath.Abs(c.DatabaseDir); err != nil {
		return fmt.Errorf("failed to resolve database directory: %w", err)
	}
	c.DatabasePath = filepath.Join(c.DatabaseDir, "media.db")
	if c.ConfigFile != "" {
		if c.ConfigFile, err = filepath.Abs(c.ConfigFile); err != nil {
			return fmt.Errorf("failed to resolve config file: %w", err)
		}
	}

	// uploads and derived files are the point of the process
	if err := ensureDirectory(c.MediaLocation, "media"); err != nil {
		return fmt.Errorf("media location error: %w", err)
	}
	if err := testWriteAccess(c.MediaLocation); err != nil {
		return fmt.Errorf("media location is not writable: %w", err)
	}
	logging.Info("  [OK] Media location is writable: %s", c.MediaLocation)

	if err := ensureDirectory(c.DatabaseDir, "database"); err != nil {
		return fmt.Errorf("database directory error: %w", err)
	}
	if err := testWriteAccess(c.DatabaseDir); err != nil {
		return fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable: %s", c.DatabaseDir)

	c.GeocodingEnabled = checkReadableDir(c.GeodataDir, "geodata")

	if c.LibraryDir != "" && !checkReadableDir(c.LibraryDir, "library") {
		logging.Warn("  Library import disabled")
		c.LibraryDir = ""
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:          ENABLED (required)")
	logging.Info("    Job workers:       %s", enabledString(c.WorkersEnabled))
	logging.Info("    Reverse geocoding: %s", enabledString(c.GeocodingEnabled))
	logging.Info("    Library import:    %s", enabledString(c.LibraryDir != ""))
	logging.Info("    Config file mode:  %s", enabledString(c.ConfigFile != ""))
	logging.Info("    Metrics:           %s", enabledString(c.MetricsEnabled))
	return nil
}

func checkReadableDir(path, name string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		logging.Warn("  %s directory unavailable: %v", name, err)
		return false
	}
	if !info.IsDir() {
		logging.Warn("  %s path %s is not a directory", name, path)
		return false
	}
	logging.Debug("    [OK] %s directory ready: %s", name, path)
	return true
}

func logConfig(c *Config) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  MEDIA_LOCATION:         %s", c.MediaLocation)
	logging.Info("  DATABASE_DIR:           %s", c.DatabaseDir)
	logging.Info("  GEODATA_DIR:            %s", c.GeodataDir)
	logging.Info("  DEVICE_DIR:             %s", c.DeviceDir)
	logging.Info("  PORT:                   %s", c.Port)
	logging.Info("  METRICS_PORT:           %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:        %v", c.MetricsEnabled)
	logging.Info("  CONFIG_FILE:            %s", c.ConfigFile)
	logging.Info("  CONFIG_POLL_INTERVAL:   %v", c.ConfigPollInterval)
	logging.Info("  JOB_ATTEMPTS:           %d", c.JobAttempts)
	logging.Info("  JOB_BACKOFF:            %v", c.JobBackoff)
	logging.Info("  WORKERS_ENABLED:        %v", c.WorkersEnabled)
	logging.Info("  LIBRARY_DIR:            %s", c.LibraryDir)
	logging.Info("  LIBRARY_SCAN_INTERVAL:  %v", c.LibraryScanInterval)
	logging.Info("  LOG_LEVEL:              %s", logging.GetLevel())
	logging.Debug("  FFMPEG_PATH:            %s", c.FFmpegPath)
	logging.Debug("  FFPROBE_PATH:           %s", c.FFprobePath)
	logging.Debug("  JOB_POLL_INTERVAL:      %v", c.JobPollInterval)
	logging.Debug("  JOB_LEASE:              %v", c.JobLease)
	logging.Debug("  VIPS_CONCURRENCY:       %d", c.VipsConcurrency)
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func printBanner() {
	banner := `
------------------------------------------------------------
                    _ _                    _            _ _
  _ __ ___   ___  __| (_) __ _       _ __ (_)_ __   ___| (_)_ __   ___
 | '_ ' _ \ / _ \/ _' | |/ _' |_____| '_ \| | '_ \ / _ \ | | '_ \ / _ \
 | | | | | |  __/ (_| | | (_| |_____| |_) | | |_) |  __/ | | | | |  __/
 |_| |_| |_|\___|\__,_|_|\__,_|     | .__/|_| .__/ \___|_|_|_| |_|\___|
                                    |_|     |_|
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}
	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
