package reconcile

import (
	"sync"
	"time"
)

// failureRecord tracks consecutive failures for a single path.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// PathFailure is a read-only view of a failing path for status output.
type PathFailure struct {
	Path      string
	Count     int
	LastError string
	LastAt    time.Time
}

// failureTracker counts consecutive per-path failures. It never suppresses a
// path: every failed operation is retried on the next cycle. The count only
// enriches log lines and status output. Thread-safe. Success clears the
// record.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	nowFunc func() time.Time // injectable for testing
}

func newFailureTracker() *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		nowFunc: time.Now,
	}
}

// recordFailure increments the counter for path and returns the new count.
func (ft *failureTracker) recordFailure(path, errMsg string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[path]
	if !ok {
		rec = &failureRecord{}
		ft.records[path] = rec
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	return rec.count
}

// recordSuccess clears the failure record for a path.
func (ft *failureTracker) recordSuccess(path string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, path)
}

// forget drops records for paths that are no longer planned for any
// operation, so the tracker does not grow without bound.
func (ft *failureTracker) forget(keep map[string]bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for path := range ft.records {
		if !keep[path] {
			delete(ft.records, path)
		}
	}
}

func (ft *failureTracker) list() []PathFailure {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	out := make([]PathFailure, 0, len(ft.records))
	for path, rec := range ft.records {
		out = append(out, PathFailure{Path: path, Count: rec.count, LastError: rec.lastErr, LastAt: rec.lastAt})
	}

	return out
}
