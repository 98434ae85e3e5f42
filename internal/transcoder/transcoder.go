package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"media-pipeline/internal/logging"
	"media-pipeline/internal/metrics"
)

// Transcoder runs ffprobe and ffmpeg and keeps track of running encoders so
// they can be killed on shutdown.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	processes   map[string]*exec.Cmd
	processMu   sync.Mutex
}

// New creates a Transcoder. Empty paths fall back to "ffmpeg" and "ffprobe"
// from PATH.
func New(ffmpegPath, ffprobePath string) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		processes:   make(map[string]*exec.Cmd),
	}
}

// IsAvailable reports whether ffmpeg and ffprobe can be found.
func (t *Transcoder) IsAvailable() bool {
	if _, err := exec.LookPath(t.ffmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(t.ffprobePath)
	return err == nil
}

// Transcode encodes input into output. Two-pass options run a first pass
// that only writes the rate control log.
func (t *Transcoder) Transcode(ctx context.Context, input, output string, opts Options) error {
	metrics.TranscoderJobsInProgress.Inc()
	defer metrics.TranscoderJobsInProgress.Dec()

	if !opts.TwoPass {
		return t.run(ctx, output, buildArgs(input, output, opts, nil))
	}

	// the passlog is named after the output so concurrent encodes don't clash
	firstPass := buildArgs(input, os.DevNull, opts, []string{"-pass", "1", "-passlogfile", output, "-f", "null"})
	if err := t.run(ctx, output, firstPass); err != nil {
		return fmt.Errorf("first pass: %w", err)
	}
	defer func() {
		for _, suffix := range []string{"-0.log", "-0.log.mbtree"} {
			if err := os.Remove(output + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				logging.Warn("failed to remove pass log %s: %v", output+suffix, err)
			}
		}
	}()

	secondPass := buildArgs(input, output, opts, []string{"-pass", "2", "-passlogfile", output})
	if err := t.run(ctx, output, secondPass); err != nil {
		return fmt.Errorf("second pass: %w", err)
	}
	return nil
}

func buildArgs(input, output string, opts Options, extra []string) []string {
	args := []string{"-y"}
	args = append(args, opts.InputOptions...)
	args = append(args, "-i", input)
	args = append(args, opts.OutputOptions...)
	args = append(args, extra...)
	return append(args, output)
}

func (t *Transcoder) run(ctx context.Context, key string, args []string) error {
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Track the process
	t.processMu.Lock()
	t.processes[key] = cmd
	t.processMu.Unlock()

	defer func() {
		t.processMu.Lock()
		delete(t.processes, key)
		t.processMu.Unlock()
	}()

	logging.Debug("ffmpeg %s", strings.Join(args, " "))

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Error("FFmpeg stderr: %s", tail(stderr.String(), 4096))
		return fmt.Errorf("ffmpeg error: %w", err)
	}
	logging.Debug("ffmpeg finished %s in %v", key, time.Since(start))
	return nil
}

// tail keeps the end of verbose ffmpeg output, where the error is.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Running returns the number of ffmpeg processes currently running.
func (t *Transcoder) Running() int {
	t.processMu.Lock()
	defer t.processMu.Unlock()
	return len(t.processes)
}

// Cleanup kills all running ffmpeg processes.
func (t *Transcoder) Cleanup() {
	t.processMu.Lock()
	defer t.processMu.Unlock()

	for path, cmd := range t.processes {
		if cmd.Process != nil {
			logging.Info("Killing transcoding process for: %s", path)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill transcoding process for %s: %v", path, err)
			}
		}
	}
}
