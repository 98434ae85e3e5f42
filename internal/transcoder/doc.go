// Package transcoder decides whether and how videos are re-encoded, and runs
// ffprobe and ffmpeg to do it.
//
// The decision side is pure: IsTranscodeRequired applies the configured
// policy to the main streams of a probe result, and NewEncoder turns the
// ffmpeg configuration into an ffmpeg argument list for software encoding
// or NVENC, QSV and VAAPI hardware encoding. NewThumbnailEncoder builds the
// single-frame extraction used for video thumbnails.
//
// Transcoder runs the external tools. It tracks running encoders so that
// Cleanup can kill them on shutdown.
package transcoder
