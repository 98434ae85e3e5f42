/*
Package filesystem is the storage repository of the pipeline: every read,
write, move and delete of originals and derived files goes through Storage.

# Moves

MoveFile renames within a filesystem. Across devices it copies into a
temporary sibling of the target, renames that into place and removes the
source only afterwards, so an interrupted move never loses the file.

# NFS retry

Stat and Open are retried with exponential backoff (default 3 attempts,
50ms to 500ms) when they fail with ESTALE. Other errors fail immediately.

	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())

# Watching

Watch wraps fsnotify. Directories are watched recursively and new
directories are added as they are created. Hidden files are ignored.

# Metrics

Operation and retry metrics are reported through an Observer set with
SetObserver; the metrics package provides the Prometheus implementation.
*/
package filesystem
