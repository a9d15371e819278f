// Package transcode drives ffmpeg as a child process to turn one source
// audio file into an HLS rendition (playlist.m3u8 plus numbered .ts
// segments) inside a caller-owned output directory.
//
// The adapter never retries: a corrupt source fails identically on every
// attempt, and it cannot tell transient failures from permanent ones. Retry
// decisions belong to the layers that can.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// stderrTailLen bounds how much ffmpeg stderr is carried in errors.
	// Full logs run to hundreds of kilobytes and bury the actual cause.
	stderrTailLen = 500

	// DefaultTimeout bounds a single ffmpeg invocation. A hung process
	// would otherwise stall its worker slot for the rest of the run.
	DefaultTimeout = 30 * time.Minute

	PlaylistName   = "playlist.m3u8"
	segmentPattern = "segment_%03d.ts"
	segmentExt     = ".ts"
)

// ProcessError reports a nonzero ffmpeg exit, carrying the tail of stderr.
type ProcessError struct {
	TrackID string
	Err     error
	Stderr  string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg failed for track %s: %v", e.TrackID, e.Err)
	}
	return fmt.Sprintf("ffmpeg failed for track %s: %v: %s", e.TrackID, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Adapter invokes ffmpeg with a fixed HLS argument template.
type Adapter struct {
	// Binary is the ffmpeg executable name or path.
	Binary string

	// AudioBitrate is the AAC target bitrate, e.g. "128k".
	AudioBitrate string

	// SegmentSeconds is the HLS segment duration.
	SegmentSeconds int

	// Timeout bounds one invocation; zero means DefaultTimeout.
	Timeout time.Duration
}

// args builds the fixed argument template. Output naming is deterministic
// so reruns overwrite instead of accumulating.
func (a *Adapter) args(inputPath, outputDir string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-c:a", "aac",
		"-b:a", a.AudioBitrate,
		"-hls_time", strconv.Itoa(a.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(outputDir, segmentPattern),
		filepath.Join(outputDir, PlaylistName),
	}
}

// Run transcodes inputPath into outputDir and returns the number of
// segments produced. outputDir must exist; the caller owns its cleanup.
func (a *Adapter) Run(ctx context.Context, inputPath, outputDir, trackID string) (int, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.Binary, a.args(inputPath, outputDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return 0, &ProcessError{
			TrackID: trackID,
			Err:     err,
			Stderr:  Tail(stderr.String(), stderrTailLen),
		}
	}

	return countSegments(outputDir)
}

// Probe confirms the binary is runnable. Called once at startup so a
// missing ffmpeg aborts the run before any item is claimed.
func (a *Adapter) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(a.Binary); err != nil {
		return fmt.Errorf("ffmpeg binary %q not found: %w", a.Binary, err)
	}
	cmd := exec.CommandContext(ctx, a.Binary, "-version")
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probing %q: %w", a.Binary, err)
	}
	return nil
}

func countSegments(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == segmentExt {
			n++
		}
	}
	return n, nil
}

// Tail returns at most the last n characters of s, trimmed of trailing
// whitespace.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n\t ")
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
