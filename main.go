// Command hlspipe transcodes the Focus Music catalog to HLS and pushes the
// renditions to the CDN bucket. It is a batch tool: each invocation fetches
// the tracks still pending, processes them with a bounded worker pool, and
// reports a summary. Re-running it retries whatever failed or was left
// pending.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/focusmusic/hls-pipeline/config"
	"github.com/focusmusic/hls-pipeline/db"
	"github.com/focusmusic/hls-pipeline/exceptions"
	"github.com/focusmusic/hls-pipeline/pipeline"
	"github.com/focusmusic/hls-pipeline/storage"
	"github.com/focusmusic/hls-pipeline/transcode"
)

func main() {
	var (
		all         = flag.Bool("all", false, "process every pending track")
		trackID     = flag.String("track", "", "process a single track by id")
		limit       = flag.Int("limit", 0, "cap the number of tracks processed (0 = no cap)")
		concurrency = flag.Int("concurrency", 4, "number of concurrent workers (1-50)")
		dryRun      = flag.Bool("dry-run", false, "list candidate tracks without transcoding or uploading")
		force       = flag.Bool("force", false, "reprocess tracks already marked done")
		minSize     = flag.Int64("min-size", 0, "only process tracks at least this many bytes")
		noBar       = flag.Bool("no-bar", false, "disable the progress bar (for non-interactive runs)")
	)
	flag.IntVar(concurrency, "c", 4, "shorthand for -concurrency")
	flag.Parse()

	log := logrus.New()

	// Local runs keep credentials in .env; deployed runs use real env vars.
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using process environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	if *all == (*trackID != "") {
		fmt.Fprintln(os.Stderr, "specify exactly one of -all or -track <id>")
		flag.Usage()
		os.Exit(1)
	}
	if *concurrency < pipeline.MinConcurrency || *concurrency > pipeline.MaxConcurrency {
		log.Fatalf("concurrency must be between %d and %d, got %d",
			pipeline.MinConcurrency, pipeline.MaxConcurrency, *concurrency)
	}

	reporter, err := exceptions.FromDSN(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		log.Fatalf("initializing error reporter: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := buildRunner(ctx, cfg, log, reporter, *dryRun)
	if err != nil {
		reporter.ReportException(err)
		log.Fatalf("setup: %v", err)
	}

	// Per-track failures land in the printed summary but keep exit code 0;
	// only setup failures exit nonzero.
	if _, err := runner.Run(ctx, pipeline.Options{
		TrackID:      *trackID,
		Limit:        *limit,
		Concurrency:  *concurrency,
		DryRun:       *dryRun,
		Force:        *force,
		MinSizeBytes: *minSize,
		NoBar:        *noBar,
	}); err != nil {
		log.Fatalf("run aborted: %v", err)
	}
}

// buildRunner dials every collaborator the run needs. A dry run skips the
// write-side setup entirely so it stays a pure read path.
func buildRunner(ctx context.Context, cfg *config.Config, log *logrus.Logger, reporter exceptions.Reporter, dryRun bool) (*pipeline.Runner, error) {
	dbc, err := db.NewClient(&db.Options{DSN: cfg.DatabaseURL})
	if err != nil {
		return nil, err
	}

	runner := &pipeline.Runner{
		Work:     dbc,
		Repo:     dbc,
		Log:      log,
		Reporter: reporter,
	}
	if dryRun {
		return runner, nil
	}

	source, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.Source.Endpoint(),
		Region:    cfg.Source.Region,
		AccessKey: cfg.Source.AccessKey,
		SecretKey: cfg.Source.SecretKey,
		Bucket:    cfg.Source.Bucket,
	})
	if err != nil {
		return nil, err
	}

	dest, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.Dest.Endpoint(),
		AccessKey: cfg.Dest.AccessKey,
		SecretKey: cfg.Dest.SecretKey,
		Bucket:    cfg.Dest.Bucket,
	})
	if err != nil {
		return nil, err
	}

	adapter := &transcode.Adapter{
		Binary:         cfg.FFmpegPath,
		AudioBitrate:   cfg.AudioBitrate,
		SegmentSeconds: cfg.SegmentSeconds,
		Timeout:        cfg.FFmpegTimeout,
	}
	if err := adapter.Probe(ctx); err != nil {
		return nil, err
	}

	runner.Source = source
	runner.Dest = dest
	runner.Transcoder = adapter
	runner.PublicBase = cfg.Dest.PublicBaseURL
	return runner, nil
}
