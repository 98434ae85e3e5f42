// Package mediatypes classifies files by extension or detected MIME type.
//
// It has no dependencies so any package can import it without creating
// import cycles.
//
//	mediatypes.GetFileType("IMG_0001.HEIC") // FileTypeImage
//	mediatypes.GetFileType(".xmp")          // FileTypeSidecar
//	mediatypes.GetMimeType("clip.mov")      // "video/quicktime"
package mediatypes
