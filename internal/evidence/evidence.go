// Package evidence captures the reproducible snapshots that back every
// verdict. A verdict without evidence is invalid by contract, so the
// recorder always produces a snapshot with at least a timestamp, and
// timestamps are monotonically non-decreasing within a run.
package evidence

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Snapshot proves how a verdict was reached.
type Snapshot struct {
	ObservedURL    string `json:"observedUrl"`
	Title          string `json:"title"`
	HTTPStatus     int    `json:"httpStatus"`
	ScenarioKind   string `json:"scenarioKind,omitempty"`
	ScreenshotPath string `json:"screenshotPath,omitempty"`
	Timestamp      int64  `json:"timestamp"` // unix milliseconds
}

// Recorder issues snapshots for one run. It owns the run's monotonic clock
// and the screenshot naming scheme.
type Recorder struct {
	mu    sync.Mutex
	dir   string
	runID string
	last  int64
	seq   int

	now func() time.Time // test hook
}

// NewRecorder creates a recorder writing screenshot files under dir.
func NewRecorder(dir, runID string) *Recorder {
	return &Recorder{dir: dir, runID: runID, now: time.Now}
}

// Stamp returns the next evidence timestamp. Never goes backwards, even if
// the wall clock does.
func (r *Recorder) Stamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixMilli()
	if ts < r.last {
		ts = r.last
	}
	r.last = ts
	return ts
}

// NextScreenshotPath reserves a path for the next screenshot file.
func (r *Recorder) NextScreenshotPath() string {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()
	return filepath.Join(r.dir, fmt.Sprintf("exec_%s_%d.png", r.runID, seq))
}

// Capture builds a snapshot from observed page state. shotPath may be empty
// when the screenshot attempt failed; the snapshot is still valid.
func (r *Recorder) Capture(url, title string, httpStatus int, kind, shotPath string) Snapshot {
	return Snapshot{
		ObservedURL:    url,
		Title:          title,
		HTTPStatus:     httpStatus,
		ScenarioKind:   kind,
		ScreenshotPath: shotPath,
		Timestamp:      r.Stamp(),
	}
}
