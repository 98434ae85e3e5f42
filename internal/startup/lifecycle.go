package startup

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/memory"

	"github.com/gorilla/mux"
)

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

func section(title string, args ...any) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info(title, args...)
	logging.Info("------------------------------------------------------------")
}

// LogMemoryConfig logs how GOMEMLIMIT was configured
func LogMemoryConfig(result memory.ConfigResult) {
	section("MEMORY CONFIGURATION")
	switch result.Source {
	case "GOMEMLIMIT":
		logging.Info("  GOMEMLIMIT from environment: %d bytes", result.GoMemLimit)
	case "MEMORY_LIMIT":
		logging.Info("  Container limit: %d bytes", result.ContainerLimit)
		logging.Info("  GOMEMLIMIT:      %d bytes (%.0f%%)", result.GoMemLimit, result.Ratio*100)
	default:
		logging.Info("  No memory limit configured (set MEMORY_LIMIT or GOMEMLIMIT)")
	}
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogTranscoderInit checks that ffmpeg can be executed and logs the result.
// It returns false when video jobs cannot run.
func LogTranscoderInit(ffmpegPath string) bool {
	section("TRANSCODER INITIALIZATION")
	if err := checkFFmpeg(ffmpegPath); err != nil {
		logging.Warn("  FFmpeg check failed: %v", err)
		logging.Warn("  Video thumbnails and conversion will fail until ffmpeg is installed")
		return false
	}
	logging.Info("  [OK] FFmpeg is available")
	return true
}

// LogGeocodingInit logs the outcome of the geodata import.
func LogGeocodingInit(enabled bool, duration time.Duration, err error) {
	section("REVERSE GEOCODING")
	switch {
	case !enabled:
		logging.Info("  Disabled (no geodata directory)")
	case err != nil:
		logging.Warn("  Geodata import failed: %v", err)
		logging.Warn("  Assets will be extracted without place names")
	default:
		logging.Info("  [OK] Geodata ready in %v", duration)
	}
}

// LogWorkersInit logs the job queue configuration.
func LogWorkersInit(enabled bool, concurrency map[string]int) {
	section("JOB WORKERS")
	if !enabled {
		logging.Info("  Disabled, jobs are only queued by this instance")
		return
	}
	names := make([]string, 0, len(concurrency))
	for name := range concurrency {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logging.Info("  %-24s concurrency %d", name, concurrency[name])
	}
}

// LogLibraryInit logs the external library setup.
func LogLibraryInit(dir, owner string, interval time.Duration, watch bool) {
	section("LIBRARY INITIALIZATION")
	logging.Info("  Path:          %s", dir)
	logging.Info("  Owner:         %s", owner)
	if interval > 0 {
		logging.Info("  Scan interval: %v", interval)
	} else {
		logging.Info("  Scan interval: startup only")
	}
	logging.Info("  Watching:      %v", watch)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes at debug level
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			label := group
			if label == "" {
				label = "root"
			}
			logging.Debug("  [%s]", label)
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
		}
	}

	if logHealthChecks {
		logging.Info("  Health check logging: ON")
	} else {
		logging.Info("  Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	first := parts[0]
	if first == "api" && len(parts) > 1 {
		return "api/" + strings.SplitN(parts[1], "/", 2)[0]
	}
	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Admin API:     http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...any) {
	logging.Fatal(format, args...)
}

func checkFFmpeg(path string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", path)
	}
	logging.Debug("  FFmpeg path: %s", resolved)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, resolved, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(first))
	}
	return nil
}
