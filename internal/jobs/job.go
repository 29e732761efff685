// Package jobs runs checklist executions asynchronously: submit returns a
// job id immediately, poll reports progress, and finished results stay
// pollable until the retention TTL evicts them.
package jobs

import (
	"errors"
	"sync"
	"time"

	"qaprobe/internal/engine"
)

// Status is the job lifecycle state. Transitions are forward-only:
// queued -> running -> done | error.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// ErrNotFound is returned when polling an unknown or evicted job id.
var ErrNotFound = errors.New("job not found")

// Progress counts completed rows.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Snapshot is the poll view of a job. Result is nil until the job is
// terminal; after that, polls are idempotent.
type Snapshot struct {
	ID          string         `json:"jobId"`
	Status      Status         `json:"status"`
	Progress    Progress       `json:"progress"`
	SubmittedAt time.Time      `json:"submittedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	Result      *engine.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type job struct {
	id          string
	status      Status
	progress    Progress
	submittedAt time.Time
	finishedAt  time.Time
	result      *engine.Result
	err         string
}

func (j *job) terminal() bool {
	return j.status == StatusDone || j.status == StatusError
}

func (j *job) snapshot() Snapshot {
	s := Snapshot{
		ID:          j.id,
		Status:      j.status,
		Progress:    j.progress,
		SubmittedAt: j.submittedAt,
	}
	if j.terminal() {
		t := j.finishedAt
		s.FinishedAt = &t
		s.Result = j.result
		s.Error = j.err
	}
	return s
}

// table is the in-memory job map. All access goes through its methods.
type table struct {
	mu   sync.RWMutex
	jobs map[string]*job
}

func newTable() *table {
	return &table{jobs: make(map[string]*job)}
}

func (t *table) put(j *job) {
	t.mu.Lock()
	t.jobs[j.id] = j
	t.mu.Unlock()
}

func (t *table) get(id string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(), true
}

func (t *table) update(id string, fn func(*job)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		fn(j)
	}
}

// evictOlderThan drops terminal jobs whose finish time is before cutoff.
// Running and queued jobs are never evicted.
func (t *table) evictOlderThan(cutoff time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []string
	for id, j := range t.jobs {
		if j.terminal() && j.finishedAt.Before(cutoff) {
			delete(t.jobs, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (t *table) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.jobs)
}
