package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/focusmusic/hls-pipeline/db"
	"github.com/focusmusic/hls-pipeline/exceptions"
)

// previewLimit caps how many candidate tracks a dry run lists.
const previewLimit = 20

// WorkSource yields the tracks a run will process.
type WorkSource interface {
	FetchPending(ctx context.Context, f db.Filter) ([]db.Track, error)
}

// BucketStore is an ObjectStore whose bucket can be created up front.
type BucketStore interface {
	ObjectStore
	EnsureBucket(ctx context.Context) error
}

// Options are the per-run knobs resolved from the CLI.
type Options struct {
	TrackID      string
	Limit        int
	Concurrency  int
	DryRun       bool
	Force        bool
	MinSizeBytes int64
	NoBar        bool
}

// Summary is what a run leaves behind for the operator.
type Summary struct {
	Total     int
	Succeeded int
	Failed    []Result
	Retries   int
	Elapsed   time.Duration
	AvgItem   time.Duration
	Cancelled bool
}

// Runner wires the pipeline together and drives one batch run.
type Runner struct {
	Work       WorkSource
	Source     ObjectStore
	Dest       BucketStore
	Repo       Repository
	Transcoder Transcoder
	Log        *logrus.Logger
	Reporter   exceptions.Reporter

	// PublicBase is the CDN base URL finished renditions are served from.
	PublicBase string

	// Stdout receives the operator-facing report. Defaults to os.Stdout.
	Stdout io.Writer
}

func (r *Runner) out() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

// Run executes one batch. The returned error is reserved for setup
// failures; per-item failures land in the Summary and still exit 0.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	filter := db.Filter{
		TrackID:      opts.TrackID,
		MinSizeBytes: opts.MinSizeBytes,
		IncludeDone:  opts.Force,
	}
	if !opts.DryRun {
		// A dry run fetches everything so the preview can say how many
		// tracks a real run would touch.
		filter.Limit = opts.Limit
	}

	items, err := r.Work.FetchPending(ctx, filter)
	if err != nil {
		r.Reporter.ReportException(err)
		return nil, err
	}

	if opts.DryRun {
		r.printPreview(items, opts.Limit)
		return &Summary{Total: len(items)}, nil
	}

	if len(items) == 0 {
		fmt.Fprintln(r.out(), "No pending tracks. Nothing to do.")
		return &Summary{}, nil
	}

	if err := r.Dest.EnsureBucket(ctx); err != nil {
		r.Reporter.ReportException(err)
		return nil, pkgerrors.Wrap(err, "preparing destination bucket")
	}

	tmpRoot := filepath.Join(os.TempDir(), "hlspipe-"+uuid.NewString())
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return nil, pkgerrors.Wrap(err, "creating scratch directory")
	}
	defer os.RemoveAll(tmpRoot)

	r.Log.WithFields(logrus.Fields{
		"tracks":      len(items),
		"concurrency": opts.Concurrency,
		"tmp":         tmpRoot,
	}).Info("starting transcode run")

	proc := &Processor{
		Source:     r.Source,
		Dest:       r.Dest,
		Repo:       r.Repo,
		Transcoder: r.Transcoder,
		TmpRoot:    tmpRoot,
		PublicBase: r.PublicBase,
		Log:        r.Log,
	}

	var bar *progressbar.ProgressBar
	if !opts.NoBar {
		bar = progressbar.NewOptions(len(items),
			progressbar.OptionSetDescription("Transcoding"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetWriter(os.Stderr),
		)
	}

	sched := &Scheduler{
		Concurrency: opts.Concurrency,
		Log:         r.Log,
		Process:     proc.Process,
		OnItemDone: func(Result) {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	}

	start := time.Now()
	results, stats := sched.Run(ctx, items)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	summary := &Summary{
		Total:     len(items),
		Elapsed:   time.Since(start),
		AvgItem:   stats.AvgItemTime(),
		Cancelled: ctx.Err() != nil,
	}
	for _, res := range results {
		summary.Retries += res.Retries
		if res.Success {
			summary.Succeeded++
		} else {
			summary.Failed = append(summary.Failed, res)
			r.Reporter.ReportException(fmt.Errorf("track %s: %s", res.TrackID, res.Err))
		}
	}

	r.printSummary(summary)
	return summary, nil
}

func (r *Runner) printPreview(items []db.Track, limit int) {
	w := r.out()
	show := previewLimit
	if limit > 0 && limit < show {
		show = limit
	}
	if show > len(items) {
		show = len(items)
	}

	fmt.Fprintf(w, "Dry run: %d pending track(s)\n", len(items))
	for _, t := range items[:show] {
		size := "size unknown"
		if t.SizeHint() > 0 {
			size = fmt.Sprintf("%.1f MB", float64(t.SizeHint())/(1<<20))
		}
		fmt.Fprintf(w, "  %s  %s (%s)\n", t.ID, t.Title, size)
	}
	if rest := len(items) - show; rest > 0 {
		fmt.Fprintf(w, "  ... and %d more tracks\n", rest)
	}
	fmt.Fprintln(w, "No changes made.")
}

func (r *Runner) printSummary(s *Summary) {
	w := r.out()

	fmt.Fprintln(w, "========================================")
	if s.Cancelled {
		fmt.Fprintln(w, "Run cancelled; unclaimed tracks remain pending.")
	}
	fmt.Fprintf(w, "Successful: %d, Failed: %d, Total: %d\n", s.Succeeded, len(s.Failed), s.Total)
	fmt.Fprintf(w, "Wall time: %s, avg per track: %s, retries: %d\n",
		s.Elapsed.Round(time.Second), s.AvgItem.Round(time.Millisecond), s.Retries)

	if len(s.Failed) > 0 {
		fmt.Fprintln(w, "Failed tracks:")
		for _, res := range s.Failed {
			fmt.Fprintf(w, "  %s: %s\n", res.TrackID, truncate(res.Err, 120))
		}
		fmt.Fprintln(w, "Re-running this command will retry only failed and pending tracks.")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
