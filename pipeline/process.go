package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/focusmusic/hls-pipeline/db"
	"github.com/focusmusic/hls-pipeline/retry"
	"github.com/focusmusic/hls-pipeline/storage"
	"github.com/focusmusic/hls-pipeline/transcode"
)

// ObjectStore is the slice of the storage client the processor needs.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Bucket() string
}

// Repository persists the completion marker.
type Repository interface {
	MarkDone(ctx context.Context, trackID, hlsPath string, segments int) error
}

// Transcoder turns one local audio file into HLS output files.
type Transcoder interface {
	Run(ctx context.Context, inputPath, outputDir, trackID string) (int, error)
}

// Processor carries one track through download, transcode, upload and
// bookkeeping. One Processor is shared by all workers; per-item state lives
// in the item's own temp directory, named by track id so concurrent workers
// never collide.
type Processor struct {
	Source     ObjectStore
	Dest       ObjectStore
	Repo       Repository
	Transcoder Transcoder

	// TmpRoot is the run-scoped scratch directory.
	TmpRoot string

	// PublicBase, when set, is the CDN base URL used to report where the
	// finished rendition is served from.
	PublicBase string

	Log *logrus.Logger
}

// destPrefix is where a track's rendition lives in the destination bucket.
func destPrefix(trackID string) string {
	return path.Join("hls", trackID)
}

// Process runs the full per-item sequence. Every failure is converted into
// the Result; nothing propagates out to kill the pool.
func (p *Processor) Process(ctx context.Context, t db.Track) (r Result) {
	ctx, attempts := retry.WithCounter(ctx)
	defer func() { r.Retries = attempts.Retries() }()

	r = Result{TrackID: t.ID, Title: t.Title}
	log := p.Log.WithField("track_id", t.ID)

	workDir := filepath.Join(p.TmpRoot, t.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		r.Err = err.Error()
		return r
	}
	// The item's scratch space goes away no matter how processing ends, so
	// a long run cannot leak disk.
	defer os.RemoveAll(workDir)

	key := storage.ObjectPath(t.AudioURL, p.Source.Bucket())
	audio, err := p.Source.Download(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			r.Aborted = true
			return r
		}
		r.Err = err.Error()
		return r
	}

	inputPath := filepath.Join(workDir, "source"+sourceExt(key))
	if err := os.WriteFile(inputPath, audio, 0o644); err != nil {
		r.Err = err.Error()
		return r
	}

	outDir := filepath.Join(workDir, "hls")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		r.Err = err.Error()
		return r
	}

	segments, err := p.Transcoder.Run(ctx, inputPath, outDir, t.ID)
	if err != nil {
		if ctx.Err() != nil {
			r.Aborted = true
			return r
		}
		r.Err = err.Error()
		return r
	}
	r.Segments = segments

	names, err := outputFiles(outDir)
	if err != nil {
		r.Err = err.Error()
		return r
	}

	prefix := destPrefix(t.ID)
	for _, name := range names {
		// Checkpoint between uploads so cancellation never strands a
		// worker mid-batch.
		if ctx.Err() != nil {
			r.Aborted = true
			return r
		}
		data, err := os.ReadFile(filepath.Join(outDir, name))
		if err != nil {
			r.Err = err.Error()
			return r
		}
		destKey := path.Join(prefix, name)
		if err := p.Dest.Upload(ctx, destKey, data, storage.ContentType(name)); err != nil {
			if ctx.Err() != nil {
				r.Aborted = true
				return r
			}
			// A partial segment set is unplayable; the whole item fails
			// and reruns re-upload everything (overwrites are harmless).
			r.Err = err.Error()
			return r
		}
	}

	// Confirm the destination actually holds the full rendition before the
	// row is marked done; the completion marker must never point at a
	// partial upload.
	if err := p.verifyUploads(ctx, prefix, names); err != nil {
		if ctx.Err() != nil {
			r.Aborted = true
			return r
		}
		r.Err = err.Error()
		return r
	}

	r.ArtifactPath = path.Join(prefix, transcode.PlaylistName)
	r.Success = true
	if p.PublicBase != "" {
		log.WithField("url", strings.TrimRight(p.PublicBase, "/")+"/"+r.ArtifactPath).
			Info("rendition published")
	}

	if err := p.Repo.MarkDone(ctx, t.ID, r.ArtifactPath, segments); err != nil {
		// The artifact is confirmed on the destination; only the
		// bookkeeping is stale. Not an item failure.
		log.WithError(err).Warnf(
			"hls rendition uploaded to %s but marking done failed; rerun with --force if the track still shows pending",
			r.ArtifactPath)
	}
	return r
}

// verifyUploads lists the destination prefix and checks every produced file
// made it, catching stores that acknowledge a put and then lose it.
func (p *Processor) verifyUploads(ctx context.Context, prefix string, names []string) error {
	keys, err := p.Dest.List(ctx, prefix+"/")
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	for _, name := range names {
		if key := path.Join(prefix, name); !have[key] {
			return fmt.Errorf("destination missing %s after upload", key)
		}
	}
	return nil
}

// outputFiles lists the produced files with the playlist last, so a
// playlist on the destination implies its segments made it first.
func outputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segments []string
	var manifests []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".m3u8") {
			manifests = append(manifests, e.Name())
		} else {
			segments = append(segments, e.Name())
		}
	}
	sort.Strings(segments)
	sort.Strings(manifests)
	return append(segments, manifests...), nil
}

func sourceExt(key string) string {
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return ".mp3"
}
