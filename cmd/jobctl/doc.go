// Command jobctl is the operator CLI of the media pipeline. It talks to the
// admin API of a running server.
//
// Usage:
//
//	jobctl status
//	jobctl start thumbnailGeneration --force
//	jobctl pause videoConversion
//	jobctl resume videoConversion
//	jobctl empty metadataExtraction
//	jobctl config get ffmpeg
//	jobctl config set ffmpeg.crf=28 job.videoConversion.concurrency=2
//
// The server defaults to http://localhost:8080 and can be changed with
// --server or JOBCTL_SERVER. Every command accepts --json to print the raw
// API response.
package main
