// Package startup loads the process configuration and writes the
// startup and shutdown log.
//
// # Configuration
//
// [LoadConfig] reads every setting from, in order of precedence, command
// line flags, the environment and a dotenv file (.env, or --env-file).
// Each key is an upper-case environment variable with a matching flag:
// MEDIA_LOCATION is --media-location.
//
//   - MEDIA_LOCATION: root of uploads and derived files (default: /data)
//   - DATABASE_DIR: SQLite database directory (default: /database)
//   - GEODATA_DIR: cities500.txt and admin code files (default: /geodata)
//   - DEVICE_DIR: hardware acceleration device nodes (default: /dev/dri)
//   - FFMPEG_PATH, FFPROBE_PATH: binaries (default: ffmpeg, ffprobe)
//   - PORT, METRICS_PORT, METRICS_ENABLED: HTTP listeners (8080, 9090, true)
//   - CONFIG_FILE: read the system config from a file instead of the database
//   - CONFIG_POLL_INTERVAL: system config refresh interval (default: 10s)
//   - JOB_ATTEMPTS, JOB_BACKOFF, JOB_POLL_INTERVAL: job retry and polling
//   - WORKERS_ENABLED: run job handlers in this process (default: true)
//   - WORKER_ID, JOB_LEASE: job lease owner and duration (default: random, 1m)
//   - LIBRARY_DIR, LIBRARY_OWNER, LIBRARY_SCAN_INTERVAL, LIBRARY_WATCH:
//     external library imported in place
//   - LOG_LEVEL, LOG_FORMAT, LOG_HEALTH_CHECKS: logging
//   - MEMORY_LIMIT, MEMORY_RATIO: GOMEMLIMIT derivation (see package memory)
//   - VIPS_CONCURRENCY: libvips threads (default: one per CPU)
//   - SHUTDOWN_TIMEOUT: grace period for in-flight work (default: 30s)
//
// The media location and database directory must be writable; geodata and
// library directories are optional and only disable their feature.
package startup
