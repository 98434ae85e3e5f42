// Package metadata reads capture metadata from originals: EXIF blocks of
// still images, container tags reported by ffprobe for videos, and XMP
// sidecars, whose values take precedence over embedded data.
//
// Every field is optional. Missing or malformed values are left nil and
// never fail an extraction.
package metadata
