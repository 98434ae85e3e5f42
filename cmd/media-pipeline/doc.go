// Package main provides the entry point of the media pipeline server.
//
// The server owns the job queues of a self-hosted photo library: it accepts
// uploads, runs thumbnail, metadata, transcoding, machine learning, sidecar
// and library jobs against a shared SQLite database, and exposes a small
// admin API to inspect and steer the queues.
//
// # Application Lifecycle
//
//  1. Configuration: flags, environment and an optional .env file are
//     merged by the startup package and the directories are validated
//  2. Memory: GOMEMLIMIT is derived from MEMORY_LIMIT and a monitor holds
//     job dispatch back while the heap is close to the limit
//  3. Database: the SQLite file is opened and migrated
//  4. System config: loaded from the database, or from CONFIG_FILE when
//     set, and polled so every process sharing the database follows changes
//  5. Components: geodata import, libvips, the ffmpeg transcoder, the
//     machine learning client and the job processors
//  6. Workers: one dispatcher per queue, sized from the system config
//  7. Library: an optional external directory scanned periodically and
//     watched for new files
//  8. HTTP: the admin API and, optionally, a separate metrics server
//  9. Graceful shutdown on SIGINT/SIGTERM
//
// # HTTP Servers
//
// The admin server (default port 8080) serves:
//
//	GET    /health, /healthz, /livez, /readyz, /version
//	GET    /api/jobs
//	PUT    /api/jobs/{queue}            {"command":"start","force":false}
//	GET    /api/system-config
//	PUT    /api/system-config
//	GET    /api/system-config/defaults
//	POST   /api/assets                  multipart, file part "assetData"
//	DELETE /api/assets                  {"ids":[...]}
//	GET    /api/assets/{id}/thumbnail   ?format=jpeg|webp
//
// The metrics server (default port 9090) serves /metrics and /health.
//
// # Running Several Processes
//
// Queues live in the database, so any number of processes may share it.
// Set WORKERS_ENABLED=false on processes that should only accept uploads
// and API calls.
//
// # Environment Variables
//
// Every flag has an environment variable of the same name, upper-cased
// with underscores. See the startup package for the full list. The most
// common are:
//
//	MEDIA_LOCATION         Root of uploads and derived files (default: /data)
//	DATABASE_DIR           Directory of the SQLite database (default: /database)
//	GEODATA_DIR            GeoNames files for reverse geocoding (optional)
//	CONFIG_FILE            TOML system config; makes the config read-only
//	LIBRARY_DIR            External library imported in place (optional)
//	MEMORY_LIMIT           Container memory limit in bytes
//	LOG_LEVEL              debug, info, warn or error (default: info)
//	LOG_FORMAT             console or json (default: console)
package main
