// Package media writes derived still images: resized thumbnails, person
// face crops and thumbhash placeholders.
//
// Stills are processed with libvips (govips) when InitVips has been called
// and fall back to the pure-Go imaging library otherwise. The fallback can
// only emit JPEG. Video work is delegated to the embedded
// transcoder.Transcoder so one Repository covers every media operation the
// job processors need.
package media
