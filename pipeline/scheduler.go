// Package pipeline runs the transcode batch: a fixed pool of workers pulls
// tracks from a shared cursor, processes each end to end, and aggregates
// progress. The work list is immutable for the life of a run; re-running
// the command is the retry mechanism for anything that failed.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/focusmusic/hls-pipeline/db"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 50

	// progressEvery throttles the progress log line so a 10k-item run
	// doesn't print 10k lines.
	progressEvery = 5
)

// Result is the outcome of processing one track.
type Result struct {
	TrackID      string
	Title        string
	Success      bool
	Err          string
	ArtifactPath string
	Segments     int
	Elapsed      time.Duration

	// Retries counts the extra remote-call attempts the item cost across
	// download, upload and bookkeeping.
	Retries int

	// Aborted marks an item abandoned at a cancellation checkpoint. It is
	// neither a success nor a failure: the row stays pending.
	Aborted bool
}

// ProcessFunc processes one claimed track end to end.
type ProcessFunc func(ctx context.Context, t db.Track) Result

// Scheduler fans a track list out over a bounded worker pool.
type Scheduler struct {
	Concurrency int
	Log         *logrus.Logger
	Process     ProcessFunc

	// OnItemDone, when set, observes each finished item. Used for the
	// progress bar; must be safe for concurrent calls.
	OnItemDone func(Result)
}

// Run processes items and returns the results of every item that was
// claimed and carried to an outcome. Items never claimed (list exhausted
// early by cancellation) are absent from the result slice and stay pending
// in the repository.
func (s *Scheduler) Run(ctx context.Context, items []db.Track) ([]Result, *Stats) {
	stats := NewStats(len(items))
	if len(items) == 0 {
		return nil, stats
	}

	workers := s.Concurrency
	if workers > len(items) {
		workers = len(items)
	}
	if workers < 1 {
		workers = 1
	}

	// cursor is the single claim point: Add returns a unique index per
	// call, so no two workers ever hold the same item.
	var cursor atomic.Int64
	results := make([]*Result, len(items))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// Cooperative cancellation checkpoint: an unclaimed
				// item stays pending for the next run.
				if ctx.Err() != nil {
					return
				}
				i := int(cursor.Add(1)) - 1
				if i >= len(items) {
					return
				}
				results[i] = s.runOne(ctx, items[i], stats)
			}
		}()
	}
	wg.Wait()

	out := make([]Result, 0, len(items))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, stats
}

func (s *Scheduler) runOne(ctx context.Context, t db.Track, stats *Stats) *Result {
	stats.Started()
	start := time.Now()

	r := s.Process(ctx, t)
	r.Elapsed = time.Since(start)

	if r.Aborted {
		stats.Abandoned()
		return nil
	}
	stats.Finished(r.Elapsed, r.Success)
	if s.OnItemDone != nil {
		s.OnItemDone(r)
	}
	s.logProgress(stats)
	return &r
}

func (s *Scheduler) logProgress(stats *Stats) {
	if s.Log == nil {
		return
	}
	sn := stats.Snapshot()
	if sn.Done()%progressEvery != 0 && sn.Done() != sn.Total {
		return
	}

	eta := "?"
	if d := stats.ETA(); d > 0 {
		eta = d.Round(time.Second).String()
	}
	s.Log.WithFields(logrus.Fields{
		"done":        sn.Done(),
		"total":       sn.Total,
		"failed":      sn.Failed,
		"in_progress": sn.InProgress,
		"eta":         eta,
	}).Info("progress")
}
