// Package handlers provides the admin HTTP API of the pipeline.
//
// It includes handlers for:
//   - Queue status and queue commands (start, pause, resume, empty)
//   - Reading and updating the system config
//   - Uploading and deleting assets, and serving their thumbnails
//   - Health checks and build information
package handlers
