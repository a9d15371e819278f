package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/focusmusic/hls-pipeline/db"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func tracks(n int) []db.Track {
	out := make([]db.Track, n)
	for i := range out {
		out[i] = db.Track{ID: fmt.Sprintf("t%03d", i), Title: fmt.Sprintf("Track %d", i)}
	}
	return out
}

func TestSchedulerClaimsEachItemOnce(t *testing.T) {
	items := tracks(200)

	var mu sync.Mutex
	claims := map[string]int{}

	s := &Scheduler{
		Concurrency: 8,
		Log:         quietLogger(),
		Process: func(ctx context.Context, tr db.Track) Result {
			mu.Lock()
			claims[tr.ID]++
			mu.Unlock()
			return Result{TrackID: tr.ID, Success: true}
		},
	}

	results, stats := s.Run(context.Background(), items)
	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	for id, n := range claims {
		if n != 1 {
			t.Errorf("item %s claimed %d times, want exactly 1", id, n)
		}
	}
	sn := stats.Snapshot()
	if sn.Completed != 200 || sn.Failed != 0 || sn.InProgress != 0 {
		t.Errorf("final stats = %+v, want 200/0/0", sn)
	}
}

func TestSchedulerOneBadItemDoesNotStopTheBatch(t *testing.T) {
	// 7 items, concurrency 3, item #4 always fails.
	items := tracks(7)

	s := &Scheduler{
		Concurrency: 3,
		Log:         quietLogger(),
		Process: func(ctx context.Context, tr db.Track) Result {
			if tr.ID == "t003" {
				return Result{TrackID: tr.ID, Err: "ffmpeg failed: Invalid data found when processing input"}
			}
			return Result{TrackID: tr.ID, Success: true}
		},
	}

	results, stats := s.Run(context.Background(), items)

	succeeded, failed := 0, 0
	var failedID string
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
			failedID = r.TrackID
		}
	}
	if succeeded != 6 || failed != 1 {
		t.Errorf("succeeded = %d, failed = %d; want 6 and 1", succeeded, failed)
	}
	if failedID != "t003" {
		t.Errorf("failed item = %s, want t003", failedID)
	}
	sn := stats.Snapshot()
	if sn.Completed != 6 || sn.Failed != 1 {
		t.Errorf("stats = %+v, want 6 completed / 1 failed", sn)
	}
}

func TestSchedulerCancellationLeavesItemsUnclaimed(t *testing.T) {
	items := tracks(50)
	ctx, cancel := context.WithCancel(context.Background())

	var processed sync.Map
	started := make(chan struct{}, 1)

	s := &Scheduler{
		Concurrency: 2,
		Log:         quietLogger(),
		Process: func(ctx context.Context, tr db.Track) Result {
			select {
			case started <- struct{}{}:
			default:
			}
			processed.Store(tr.ID, true)
			time.Sleep(10 * time.Millisecond)
			return Result{TrackID: tr.ID, Success: true}
		},
	}

	done := make(chan struct{})
	var results []Result
	go func() {
		results, _ = s.Run(ctx, items)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not drain after cancellation")
	}

	if len(results) == len(items) {
		t.Error("cancellation had no effect; every item was processed")
	}
	// Every result present must correspond to a processed item; items never
	// claimed are simply absent.
	for _, r := range results {
		if _, ok := processed.Load(r.TrackID); !ok {
			t.Errorf("result for %s exists but item never ran", r.TrackID)
		}
	}
}

func TestSchedulerAbortedItemsAreNotTerminal(t *testing.T) {
	items := tracks(4)

	s := &Scheduler{
		Concurrency: 1,
		Log:         quietLogger(),
		Process: func(ctx context.Context, tr db.Track) Result {
			if tr.ID == "t001" {
				return Result{TrackID: tr.ID, Aborted: true}
			}
			return Result{TrackID: tr.ID, Success: true}
		},
	}

	results, stats := s.Run(context.Background(), items)
	if len(results) != 3 {
		t.Errorf("results = %d, want 3 (the aborted item is not an outcome)", len(results))
	}
	sn := stats.Snapshot()
	if sn.Completed != 3 || sn.Failed != 0 || sn.InProgress != 0 {
		t.Errorf("stats = %+v, want 3/0/0", sn)
	}
}

func TestSchedulerEmptyList(t *testing.T) {
	s := &Scheduler{Concurrency: 4, Log: quietLogger(), Process: func(ctx context.Context, tr db.Track) Result {
		t.Error("process called for an empty work list")
		return Result{}
	}}
	results, stats := s.Run(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
	if sn := stats.Snapshot(); sn.Total != 0 {
		t.Errorf("total = %d, want 0", sn.Total)
	}
}
