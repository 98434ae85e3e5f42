// Package sysconfig holds the runtime system configuration shared by all
// processes of a deployment: ffmpeg settings, per-queue concurrency,
// machine learning, reverse geocoding, storage template and thumbnails.
//
// The database stores only the overrides of the built-in defaults, as
// dotted keys, plus a version counter. Core caches the merged result,
// validates updates, publishes new snapshots to subscribers and polls the
// version so that every process converges on the same configuration. When
// a TOML config file is configured it replaces the database as the source
// of truth and edits to the file are picked up live.
package sysconfig
