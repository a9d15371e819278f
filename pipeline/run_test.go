package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/focusmusic/hls-pipeline/db"
	"github.com/focusmusic/hls-pipeline/exceptions"
)

type fakeWork struct {
	items   []db.Track
	err     error
	filters []db.Filter
}

func (f *fakeWork) FetchPending(ctx context.Context, filter db.Filter) ([]db.Track, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	items := f.items
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

type fakeBucketStore struct {
	fakeStore
	ensureErr   error
	ensureCalls int
}

func (f *fakeBucketStore) EnsureBucket(ctx context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}

func pendingTracks(n int) []db.Track {
	out := make([]db.Track, n)
	for i := range out {
		out[i] = db.Track{ID: fmt.Sprintf("t%03d", i), Title: fmt.Sprintf("Track %d", i), AudioURL: fmt.Sprintf("endel/t%03d.mp3", i)}
	}
	return out
}

func TestRunDryRunPreview(t *testing.T) {
	work := &fakeWork{items: pendingTracks(500)}
	var out bytes.Buffer

	r := &Runner{
		Work:     work,
		Log:      quietLogger(),
		Reporter: &exceptions.NoopReporter{},
		Stdout:   &out,
	}

	summary, err := r.Run(context.Background(), Options{DryRun: true, Limit: 20})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if summary.Total != 500 {
		t.Errorf("Total = %d, want 500", summary.Total)
	}

	// The preview caps at the limit but counts the full pending set.
	text := out.String()
	if !strings.Contains(text, "and 480 more tracks") {
		t.Errorf("preview missing remainder line:\n%s", text)
	}
	if got := strings.Count(text, "  t0"); got != 20 {
		t.Errorf("preview entries = %d, want exactly 20", got)
	}

	// A dry run must never apply the limit to the fetch itself.
	if len(work.filters) != 1 || work.filters[0].Limit != 0 {
		t.Errorf("dry-run fetch filters = %+v, want a single unlimited fetch", work.filters)
	}
}

func TestRunNothingPending(t *testing.T) {
	var out bytes.Buffer
	r := &Runner{
		Work:     &fakeWork{},
		Log:      quietLogger(),
		Reporter: &exceptions.NoopReporter{},
		Stdout:   &out,
	}

	summary, err := r.Run(context.Background(), Options{Concurrency: 3, NoBar: true})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if summary.Total != 0 {
		t.Errorf("Total = %d, want 0", summary.Total)
	}
	if !strings.Contains(out.String(), "Nothing to do") {
		t.Errorf("missing nothing-to-do notice:\n%s", out.String())
	}
}

func TestRunFetchFailureIsFatal(t *testing.T) {
	r := &Runner{
		Work:     &fakeWork{err: errors.New("connection refused")},
		Log:      quietLogger(),
		Reporter: &exceptions.NoopReporter{},
		Stdout:   &bytes.Buffer{},
	}
	if _, err := r.Run(context.Background(), Options{Concurrency: 3}); err == nil {
		t.Fatal("Run did not surface the fetch failure")
	}
}

func TestRunEnsureBucketFailureIsFatal(t *testing.T) {
	dest := &fakeBucketStore{ensureErr: errors.New("403 forbidden")}
	r := &Runner{
		Work:     &fakeWork{items: pendingTracks(3)},
		Dest:     dest,
		Log:      quietLogger(),
		Reporter: &exceptions.NoopReporter{},
		Stdout:   &bytes.Buffer{},
	}

	if _, err := r.Run(context.Background(), Options{Concurrency: 3, NoBar: true}); err == nil {
		t.Fatal("Run did not fail fast on an unusable destination bucket")
	}
	if dest.ensureCalls != 1 {
		t.Errorf("ensureCalls = %d, want 1", dest.ensureCalls)
	}
}

func TestRunEndToEndWithOneBadItem(t *testing.T) {
	items := pendingTracks(7)
	objects := map[string][]byte{}
	for _, tr := range items {
		objects[tr.AudioURL] = []byte("mp3")
	}

	src := &fakeStore{bucket: "audio-files", objects: objects}
	dest := &fakeBucketStore{fakeStore: fakeStore{bucket: "focus-music-hls"}}
	repo := &fakeRepo{}
	tr := &failOnTranscoder{failID: "t003", segments: 2}

	var out bytes.Buffer
	r := &Runner{
		Work:       &fakeWork{items: items},
		Source:     src,
		Dest:       dest,
		Repo:       repo,
		Transcoder: tr,
		Log:        quietLogger(),
		Reporter:   &exceptions.NoopReporter{},
		Stdout:     &out,
	}

	summary, err := r.Run(context.Background(), Options{Concurrency: 3, NoBar: true})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if summary.Succeeded != 6 || len(summary.Failed) != 1 || summary.Total != 7 {
		t.Fatalf("summary = %+v, want 6 succeeded / 1 failed / 7 total", summary)
	}
	if summary.Failed[0].TrackID != "t003" {
		t.Errorf("failed track = %s, want t003", summary.Failed[0].TrackID)
	}

	text := out.String()
	if !strings.Contains(text, "Successful: 6, Failed: 1, Total: 7") {
		t.Errorf("summary line missing:\n%s", text)
	}
	if !strings.Contains(text, "t003") {
		t.Errorf("failed id missing from report:\n%s", text)
	}
	if !strings.Contains(text, "Re-running this command") {
		t.Errorf("rerun hint missing:\n%s", text)
	}
}

// failOnTranscoder behaves like fakeTranscoder but fails one specific item,
// simulating a corrupt source file.
type failOnTranscoder struct {
	failID   string
	segments int
}

func (f *failOnTranscoder) Run(ctx context.Context, inputPath, outputDir, trackID string) (int, error) {
	if trackID == f.failID {
		return 0, errors.New("exit status 1: Invalid data found when processing input")
	}
	ft := fakeTranscoder{segments: f.segments}
	return ft.Run(ctx, inputPath, outputDir, trackID)
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 120); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	long := strings.Repeat("e", 200)
	got := truncate(long, 120)
	if len(got) != 123 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate length = %d, want 123 with ellipsis", len(got))
	}
}
