package pipeline

import (
	"sync"
	"time"
)

// etaWindow is how many recent item durations feed the ETA.
const etaWindow = 10

// minETASamples is how many completions are needed before an ETA is shown;
// below that a single outlier dominates the estimate.
const minETASamples = 3

// Stats is the one piece of state shared across workers. All mutation goes
// through its mutex.
type Stats struct {
	mu sync.Mutex

	total      int
	completed  int
	failed     int
	inProgress int

	start      time.Time
	cumulative time.Duration
	recent     [etaWindow]time.Duration
	nRecent    int
	next       int
}

// NewStats starts the run clock for total items.
func NewStats(total int) *Stats {
	return &Stats{total: total, start: time.Now()}
}

// Started records a worker claiming an item.
func (s *Stats) Started() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress++
}

// Abandoned records a worker walking away from an in-flight item at a
// cancellation checkpoint. The item counts as neither completed nor failed;
// its row is still pending for the next run.
func (s *Stats) Abandoned() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress--
}

// Finished records one item's outcome and processing time.
func (s *Stats) Finished(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress--
	if success {
		s.completed++
	} else {
		s.failed++
	}
	s.cumulative += d
	s.recent[s.next] = d
	s.next = (s.next + 1) % etaWindow
	if s.nRecent < etaWindow {
		s.nRecent++
	}
}

// Snapshot is a consistent read of the counters.
type Snapshot struct {
	Total      int
	Completed  int
	Failed     int
	InProgress int
	Elapsed    time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Total:      s.total,
		Completed:  s.completed,
		Failed:     s.failed,
		InProgress: s.inProgress,
		Elapsed:    time.Since(s.start),
	}
}

// Done returns completed+failed.
func (sn Snapshot) Done() int { return sn.Completed + sn.Failed }

// ETA estimates the remaining wall time from a moving window of the last
// completed items. It returns 0 until enough samples exist; callers render
// that as "?".
func (s *Stats) ETA() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nRecent < minETASamples {
		return 0
	}
	var sum time.Duration
	for i := 0; i < s.nRecent; i++ {
		sum += s.recent[i]
	}
	avg := sum / time.Duration(s.nRecent)

	remaining := s.total - s.completed - s.failed
	if remaining <= 0 {
		return 0
	}
	return avg * time.Duration(remaining)
}

// AvgItemTime returns the mean per-item processing time, or 0 when nothing
// finished.
func (s *Stats) AvgItemTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	done := s.completed + s.failed
	if done == 0 {
		return 0
	}
	return s.cumulative / time.Duration(done)
}
