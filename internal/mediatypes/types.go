package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType represents the kind of a file found during upload or a library
// scan.
type FileType string

const (
	// FileTypeImage represents a supported image or RAW format.
	FileTypeImage FileType = "image"
	// FileTypeVideo represents a supported video container.
	FileTypeVideo FileType = "video"
	// FileTypeSidecar represents an XMP sidecar.
	FileTypeSidecar FileType = "sidecar"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".avif": "image/avif",
	".jxl":  "image/jxl",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",
	".dng":  "image/x-adobe-dng",
	".cr2":  "image/x-canon-cr2",
	".cr3":  "image/x-canon-cr3",
	".nef":  "image/x-nikon-nef",
	".arw":  "image/x-sony-arw",
	".orf":  "image/x-olympus-orf",
	".raf":  "image/x-fuji-raf",
	".rw2":  "image/x-panasonic-rw2",

	// Videos
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".mts":  "video/mp2t",
	".m2ts": "video/mp2t",
	".ts":   "video/mp2t",

	// Sidecars
	".xmp": "application/xml",
}

// GetFileType returns the FileType for a file name or extension, matching
// case-insensitively.
func GetFileType(name string) FileType {
	mime, ok := MimeTypes[extension(name)]
	if !ok {
		return FileTypeOther
	}
	return FromMimeType(mime)
}

// FromMimeType classifies a MIME type as detected from file content.
func FromMimeType(mime string) FileType {
	mime, _, _ = strings.Cut(mime, ";")
	switch {
	case strings.HasPrefix(mime, "image/"):
		return FileTypeImage
	case strings.HasPrefix(mime, "video/"):
		return FileTypeVideo
	case mime == "application/xml" || mime == "text/xml" || mime == "application/rdf+xml":
		return FileTypeSidecar
	}
	return FileTypeOther
}

// GetMimeType returns the MIME type for a file name or extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(name string) string {
	if mime, ok := MimeTypes[extension(name)]; ok {
		return mime
	}
	return "application/octet-stream"
}

// IsMediaFile returns true if the name has a supported image or video
// extension.
func IsMediaFile(name string) bool {
	t := GetFileType(name)
	return t == FileTypeImage || t == FileTypeVideo
}

func extension(name string) string {
	if !strings.HasPrefix(name, ".") || strings.Count(name, ".") > 1 || strings.ContainsAny(name, `/\`) {
		name = filepath.Ext(name)
	}
	return strings.ToLower(name)
}
