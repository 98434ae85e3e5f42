// Package storage resolves where files live below the media location.
//
// Derived files (thumbnails, encoded videos, person thumbnails) have exactly
// one canonical path computed from (folder, owner, id, extension) and the
// configured layout. Nothing else in the pipeline builds these paths by
// hand, which lets the migration job detect and move files whose stored path
// differs from the canonical one.
//
// Original files get their path from the storage template, at upload time
// and again whenever the template migration runs. Two originals rendering
// to the same path are told apart by a "+N" suffix (see Suffixed).
package storage
