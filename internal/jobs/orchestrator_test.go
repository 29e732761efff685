package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"qaprobe/internal/checklist"
	"qaprobe/internal/config"
	"qaprobe/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner is a scriptable Runner.
type fakeRunner struct {
	block   chan struct{} // Execute waits on this when non-nil
	err     error
	panics  bool
	running int32
	maxSeen int32
}

func (f *fakeRunner) Execute(ctx context.Context, req engine.Request) (*engine.Result, error) {
	cur := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}

	if f.panics {
		panic("boom")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if req.Progress != nil {
		req.Progress(len(req.Rows), len(req.Rows))
	}
	return &engine.Result{
		OK:      true,
		RunID:   "run-fake",
		Summary: engine.Summary{Pass: len(req.Rows)},
	}, nil
}

func someRows(n int) []checklist.RowInput {
	rows := make([]checklist.RowInput, n)
	for i := range rows {
		rows[i] = checklist.RowInput{Screen: "https://app.test/x", Scenario: "버튼 클릭"}
	}
	return rows
}

func newOrchestrator(t *testing.T, r Runner, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	o := New(r, cfg, nil)
	t.Cleanup(o.Close)
	return o
}

func awaitTerminal(t *testing.T, o *Orchestrator, id string) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := o.Poll(id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status == StatusDone || s.Status == StatusError
	}, 5*time.Second, 5*time.Millisecond)
	return snap
}

func TestSubmitRejectsEmptyRows(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{}, nil)

	_, err := o.Submit(engine.Request{})
	assert.ErrorIs(t, err, engine.ErrNoRows)
}

func TestPollUnknownJob(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{}, nil)

	_, err := o.Poll("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRunsToDoneAndPollsIdempotently(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{}, nil)

	id, err := o.Submit(engine.Request{Rows: someRows(2)})
	require.NoError(t, err)

	snap := awaitTerminal(t, o, id)
	assert.Equal(t, StatusDone, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, 2, snap.Result.Summary.Pass)
	assert.Equal(t, Progress{Completed: 2, Total: 2}, snap.Progress)
	require.NotNil(t, snap.FinishedAt)

	again, err := o.Poll(id)
	require.NoError(t, err)
	assert.Equal(t, snap.Status, again.Status)
	assert.Equal(t, snap.Result, again.Result)
	assert.Equal(t, snap.FinishedAt, again.FinishedAt)
}

func TestPollBeforeTerminalIsStatusOnly(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	o := newOrchestrator(t, r, nil)

	id, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := o.Poll(id)
		return err == nil && s.Status == StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	s, err := o.Poll(id)
	require.NoError(t, err)
	assert.Nil(t, s.Result, "no result before the job is terminal")
	assert.Nil(t, s.FinishedAt)

	close(r.block)
	assert.Equal(t, StatusDone, awaitTerminal(t, o, id).Status)
}

func TestRunnerErrorBecomesErrorStatus(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{err: errors.New("browser session failed")}, nil)

	id, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)

	snap := awaitTerminal(t, o, id)
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.Error, "browser session failed")
	assert.Nil(t, snap.Result)
}

func TestPanicBecomesErrorStatus(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{panics: true}, nil)

	id, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)

	snap := awaitTerminal(t, o, id)
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.Error, "panicked")
}

func TestConcurrencyGateHoldsSecondJobQueued(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	o := newOrchestrator(t, r, func(c *config.Config) { c.Jobs.MaxConcurrent = 1 })

	first, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)
	second, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := o.Poll(first)
		return err == nil && s.Status == StatusRunning
	}, 5*time.Second, 5*time.Millisecond)

	s, err := o.Poll(second)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, s.Status, "gate admits one job at a time")
	assert.EqualValues(t, 1, atomic.LoadInt32(&r.maxSeen))

	close(r.block)
	awaitTerminal(t, o, first)
	awaitTerminal(t, o, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&r.maxSeen), "never more than one concurrent execution")
}

func TestTerminalJobsEvictedAfterTTL(t *testing.T) {
	o := newOrchestrator(t, &fakeRunner{}, func(c *config.Config) {
		c.Jobs.RetentionTTL = "40ms"
	})

	id, err := o.Submit(engine.Request{Rows: someRows(1)})
	require.NoError(t, err)
	awaitTerminal(t, o, id)

	require.Eventually(t, func() bool {
		_, err := o.Poll(id)
		return errors.Is(err, ErrNotFound)
	}, 5*time.Second, 5*time.Millisecond)
	assert.Zero(t, o.table.len())
}
