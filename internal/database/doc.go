// Package database provides SQLite persistence for the media pipeline.
//
// It stores:
//   - Assets, their EXIF data, faces, people and machine learning results
//   - The job queues (see JobStore), shared by every process using the file
//   - System configuration overrides and other system metadata
//   - Geodata used for reverse geocoding
//
// The schema is managed with goose migrations embedded in the binary. The
// database runs in WAL mode and writes inside this process are serialized.
package database
