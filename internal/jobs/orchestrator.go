package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"qaprobe/internal/config"
	"qaprobe/internal/engine"
	"qaprobe/internal/logging"
	"qaprobe/internal/store"
)

// Runner executes one checklist run. Satisfied by *engine.Engine.
type Runner interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Orchestrator owns the async job lifecycle: admission, the concurrency
// gate, progress tracking, archival, and TTL eviction.
type Orchestrator struct {
	runner  Runner
	table   *table
	sem     *semaphore.Weighted
	ttl     time.Duration
	project string
	history *store.History // nil disables archival

	janitorEvery time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates an orchestrator. history may be nil.
func New(runner Runner, cfg config.Config, history *store.History) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	ttl := cfg.Jobs.GetRetentionTTL()
	every := ttl / 4
	if every <= 0 || every > time.Minute {
		every = time.Minute
	}
	o := &Orchestrator{
		runner:       runner,
		table:        newTable(),
		sem:          semaphore.NewWeighted(int64(cfg.Jobs.GetMaxConcurrent())),
		ttl:          ttl,
		project:      cfg.Project,
		history:      history,
		janitorEvery: every,
		cancel:       cancel,
	}
	o.wg.Add(1)
	go o.janitor(ctx)
	return o
}

// Submit validates the request, registers a queued job, and returns its id
// without waiting for a worker slot.
func (o *Orchestrator) Submit(req engine.Request) (string, error) {
	if len(req.Rows) == 0 {
		return "", engine.ErrNoRows
	}

	id := uuid.New().String()
	j := &job{
		id:          id,
		status:      StatusQueued,
		submittedAt: time.Now(),
		progress:    Progress{Total: len(req.Rows)},
	}
	o.table.put(j)
	logging.Jobs("job %s submitted: %d row(s)", id, len(req.Rows))

	o.wg.Add(1)
	go o.run(id, req)
	return id, nil
}

// Poll reports the job's current state. Unknown and evicted ids both map
// to ErrNotFound; the caller cannot tell them apart, which is the point of
// an eviction policy.
func (o *Orchestrator) Poll(id string) (Snapshot, error) {
	s, ok := o.table.get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

// Close stops the janitor and waits for in-flight jobs to settle.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// runTimeout bounds one job so a wedged browser can never pin a job in
// running forever: per-row budget for every row, the fuzz budget, and
// slack for session setup.
func runTimeout(req engine.Request) time.Duration {
	d := time.Duration(len(req.Rows)) * req.Context.GetRowTimeout()
	if req.Context.Exhaustive {
		d += req.Context.GetTimeBudget()
	}
	return d + 2*time.Minute
}

func (o *Orchestrator) run(id string, req engine.Request) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout(req))
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.finish(id, nil, fmt.Errorf("queue wait exceeded the run budget: %w", err))
		return
	}
	defer o.sem.Release(1)

	o.table.update(id, func(j *job) { j.status = StatusRunning })
	logging.Jobs("job %s running", id)

	defer func() {
		if r := recover(); r != nil {
			o.finish(id, nil, fmt.Errorf("execution panicked: %v", r))
		}
	}()

	req.Progress = func(completed, total int) {
		o.table.update(id, func(j *job) {
			j.progress = Progress{Completed: completed, Total: total}
		})
	}

	res, err := o.runner.Execute(ctx, req)
	o.finish(id, res, err)
}

func (o *Orchestrator) finish(id string, res *engine.Result, err error) {
	now := time.Now()
	o.table.update(id, func(j *job) {
		j.finishedAt = now
		if err != nil {
			j.status = StatusError
			j.err = err.Error()
		} else {
			j.status = StatusDone
			j.result = res
		}
	})
	if err != nil {
		logging.JobsError("job %s failed: %v", id, err)
	} else {
		logging.Jobs("job %s done: %d pass, %d fail, %d blocked",
			id, res.Summary.Pass, res.Summary.Fail, res.Summary.Blocked)
	}
	o.archive(id, res, err, now)
}

func (o *Orchestrator) archive(id string, res *engine.Result, err error, at time.Time) {
	if o.history == nil {
		return
	}
	rec := store.RunRecord{
		JobID:     id,
		Project:   o.project,
		Status:    string(StatusDone),
		CreatedAt: at.UnixMilli(),
	}
	if err != nil {
		rec.Status = string(StatusError)
		rec.Error = err.Error()
	} else {
		rec.RunID = res.RunID
		rec.Rows = len(res.Rows)
		rec.Pass = res.Summary.Pass
		rec.Fail = res.Summary.Fail
		rec.Blocked = res.Summary.Blocked
		rec.SheetPath = res.FinalSheet.CSVPath
		rec.DurationMs = res.DurationMs
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := o.history.SaveRun(ctx, rec); saveErr != nil {
		logging.JobsError("job %s archive failed: %v", id, saveErr)
	}
}

func (o *Orchestrator) janitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.janitorEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := o.table.evictOlderThan(time.Now().Add(-o.ttl)); len(evicted) > 0 {
				logging.Jobs("evicted %d job(s) past the %s retention window", len(evicted), o.ttl)
			}
		}
	}
}
